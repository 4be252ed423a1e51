package websocket

import (
	"errors"
	"fmt"
	"io"
)

// errInternal marks an application-callback failure observed mid-receive;
// classify() maps it to errKindApplication so handleReceiveError escalates
// with CloseInternalServerErr rather than a protocol close code.
var errInternal = errors.New("websocket: internal error")

// Ping sends a Ping control frame; data is echoed back by a compliant peer
// in the matching Pong. Max 125 bytes per RFC 6455 Section 5.5.
func (c *Conn) Ping(data []byte) error {
	if err := c.state.checkIfOpen(); err != nil {
		return err
	}
	if !isValidControlData(data) {
		return ErrControlTooLarge
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.writeOut(true, opcodePing, false, data)
}

// pong replies to a received Ping, echoing its application data verbatim,
// as required by RFC 6455 Section 5.5.2.
func (c *Conn) pong(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.writeOut(true, opcodePong, false, data)
}

// serveReceive is the Receive Loop (component R): one goroutine per Conn,
// continuously decoding frames, assembling fragmented messages, dispatching
// control frames, and driving the close path on any protocol or I/O error.
//
//nolint:gocyclo,cyclop,gocognit // dispatch has many RFC-mandated branches
func (c *Conn) serveReceive() {
	defer c.markExitReceiving()

	allowRSV1 := c.compression == compressionDeflate

	for {
		f, err := readFrame(c.reader, c.isServer, allowRSV1, c.cfg.MaxFramePayload)
		if err != nil {
			c.handleReceiveError(err)
			return
		}

		switch f.opcode {
		case opcodePing:
			c.logger.Debug("ping received")
			if err := c.pong(f.payload); err != nil {
				c.handleReceiveError(err)
				return
			}
			continue

		case opcodePong:
			select {
			case c.receivePong <- struct{}{}:
			default:
			}
			continue

		case opcodeClose:
			c.handleCloseFrame(f.payload)
			return
		}

		switch f.opcode {
		case opcodeText, opcodeBinary:
			if c.inFragment {
				c.fail(CloseInvalidFramePayloadData, "data frame interrupts fragmented message")
				return
			}

			if f.fin {
				if err := c.deliverMessage(MessageType(f.opcode), f.rsv1, f.payload); err != nil {
					c.handleReceiveError(err)
					return
				}
				continue
			}

			c.inFragment = true
			c.fragmentType = f.opcode
			c.fragmentRSV1 = f.rsv1
			c.fragmentBuf.Reset()
			c.fragmentBuf.Write(f.payload)

		case opcodeContinuation:
			if !c.inFragment {
				c.handleReceiveError(ErrUnexpectedContinuation)
				return
			}

			c.fragmentBuf.Write(f.payload)

			if f.fin {
				c.inFragment = false
				payload := make([]byte, c.fragmentBuf.Len())
				copy(payload, c.fragmentBuf.Bytes())

				if err := c.deliverMessage(MessageType(c.fragmentType), c.fragmentRSV1, payload); err != nil {
					c.handleReceiveError(err)
					return
				}
			}
		}
	}
}

// deliverMessage decompresses if needed, validates UTF-8 for Text messages,
// and hands the message to its consumer: a registered OnMessage callback
// consumes it directly, otherwise it is enqueued for pull-style Dequeue and
// held only until that call drains it.
func (c *Conn) deliverMessage(msgType MessageType, rsv1 bool, payload []byte) error {
	if rsv1 {
		decompressed, err := c.recvCompressor.decompress(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCompressionUnsupported, err)
		}
		payload = decompressed
	}

	if err := validateText(msgType, payload); err != nil {
		return err
	}

	if c.emitter.hasOnMessage() {
		if panicked, recovered := c.emitter.emitMessage(msgType, payload); panicked {
			c.logger.WithField("recovered", recovered).Error("OnMessage panicked")
			c.emitter.emitError(fmt.Sprintf("OnMessage panicked: %v", recovered))
			return errInternal
		}
		return nil
	}

	ev := MessageEvent{Type: msgType, Payload: payload}
	if !c.queue.enqueue(ev) {
		return ErrMessageTooLarge
	}

	return nil
}

// handleCloseFrame processes a received Close frame: it always answers with
// the closing side of the handshake, replying with the peer's status code
// unless that code is reserved (1005/1006/1015), per RFC 6455 Section 7.4.1.
func (c *Conn) handleCloseFrame(payload []byte) {
	code, reason := parseClosePayload(payload)

	// Signal exit before entering closeOnce: a local Close that is waiting
	// for the peer's reply holds closeOnce until this signal arrives.
	c.markExitReceiving()

	c.closeOnce.Do(func() {
		c.state.transition(stateCloseSent)

		if !IsReserved(code) {
			c.sendMu.Lock()
			_ = c.writeOut(true, opcodeClose, false, payload)
			c.sendMu.Unlock()
		}

		c.finish(true, code, reason)
	})
}

// handleReceiveError classifies a receive loop error and drives the
// appropriate close.
func (c *Conn) handleReceiveError(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.logger.Debug("peer closed stream without a close frame")
		c.fail(CloseAbnormalClosure, "")
		return
	}

	switch classify(err) {
	case errKindProtocol:
		c.logger.WithError(err).Warn("protocol error")
		c.emitter.emitError(err.Error())
		c.fail(closeCodeFor(err), err.Error())
	case errKindApplication:
		c.logger.WithError(err).Error("application callback error")
		c.emitter.emitError(err.Error())
		c.fail(CloseInternalServerErr, "internal error")
	default:
		c.logger.WithError(err).Warn("I/O error in receive loop")
		c.emitter.emitError(err.Error())
		c.fail(CloseInternalServerErr, "internal error")
	}
}
