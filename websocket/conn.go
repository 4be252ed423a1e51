package websocket

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Conn is one upgraded WebSocket peer (RFC 6455). It owns the underlying
// byte stream, drives the frame-level protocol in a dedicated receive
// goroutine, and exposes an event-style API: register OnOpen/OnMessage/
// OnError/OnClose callbacks, then call ConnectAsServer to start receiving.
//
// Conn moves monotonically through Connecting -> Open -> CloseSent ->
// Closed (see state.go); once Closed the underlying stream and close hook
// have been released and never touched again.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	isServer bool
	cfg      *Config

	id     uuid.UUID
	logger *logrus.Entry

	subprotocol string
	compression compressionMode
	secure      bool

	// closeHook is invoked once, after the close handshake resolves (or
	// times out), to release the upgrade layer's resources. Supplied by
	// Upgrade; for a plain net.Conn it is simply conn.Close.
	closeHook func() error

	state *stateMachine // conn_lock

	sendMu         sync.Mutex // send_lock
	sendCompressor *compressor
	recvCompressor *compressor

	queue   *eventQueue // queue_lock
	emitter *emitter    // event_lock

	// Fragment reassembly state; touched only by the single receive goroutine.
	fragmentBuf  bytes.Buffer
	fragmentType byte
	fragmentRSV1 bool
	inFragment   bool

	exitReceiving chan struct{}
	exitOnce      sync.Once

	receivePong chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewConn builds a fresh, unbound Conn. Call SetContext to bind it to an
// upgraded stream before calling ConnectAsServer.
func NewConn(isServer bool) *Conn {
	id := uuid.New()
	return &Conn{
		isServer:      isServer,
		id:            id,
		logger:        newConnLogger(id, isServer),
		state:         newStateMachine(),
		queue:         newEventQueue(0),
		exitReceiving: make(chan struct{}),
		receivePong:   make(chan struct{}, 1),
	}
}

// ContextOptions carries the negotiated parameters SetContext binds onto a
// fresh Conn: the subprotocol the handshake selected, whether permessage-
// deflate was negotiated, whether the underlying transport is secure (TLS),
// and the effective Config.
type ContextOptions struct {
	Subprotocol string
	Compression bool
	Secure      bool
	Config      *Config
}

// SetContext binds an upgraded connection to c. Precondition: c is a fresh
// instance (state == Connecting, not yet bound). closeHook releases whatever
// resource owns netConn once the close handshake resolves.
func (c *Conn) SetContext(netConn net.Conn, reader *bufio.Reader, writer *bufio.Writer, closeHook func() error, opts ContextOptions) error {
	if c.state.current() != stateConnecting || c.conn != nil {
		return ErrAlreadyClosing
	}

	cfg := opts.Config.Normalize()

	c.conn = netConn
	c.reader = reader
	c.writer = writer
	c.closeHook = closeHook
	c.cfg = cfg
	c.subprotocol = opts.Subprotocol
	c.secure = opts.Secure

	c.compression = compressionNone
	if opts.Compression {
		c.compression = compressionDeflate
	}
	c.sendCompressor = newCompressor(c.compression)
	c.recvCompressor = newCompressor(c.compression)

	c.emitter = newEmitter(c.logger)
	if cfg.MaxQueuedMessages > 0 {
		c.queue = newEventQueue(cfg.MaxQueuedMessages)
	}

	return nil
}

// ID returns the connection's unique identifier, used as the conn_id log field.
func (c *Conn) ID() uuid.UUID { return c.id }

// Logger returns the structured logger entry scoped to this connection.
func (c *Conn) Logger() *logrus.Entry { return c.logger }

// Subprotocol returns the negotiated subprotocol, or "" if none.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// IsSecure reports whether the underlying transport is TLS.
func (c *Conn) IsSecure() bool { return c.secure }

// OnOpen registers the callback fired once ConnectAsServer completes.
func (c *Conn) OnOpen(fn func()) { c.emitter.setOnOpen(fn) }

// OnMessage registers the callback fired for each assembled inbound message.
func (c *Conn) OnMessage(fn func(msgType MessageType, data []byte)) { c.emitter.setOnMessage(fn) }

// OnError registers the callback fired on send/receive/application errors.
// Its own panics are swallowed.
func (c *Conn) OnError(fn func(message string)) { c.emitter.setOnError(fn) }

// OnClose registers the callback fired exactly once when the connection
// reaches Closed.
func (c *Conn) OnClose(fn func(CloseEvent)) { c.emitter.setOnClose(fn) }

// ConnectAsServer transitions Connecting -> Open, starts the receive loop,
// and emits OnOpen. Precondition: state == Connecting.
func (c *Conn) ConnectAsServer() error {
	if !c.state.open() {
		return ErrAlreadyClosing
	}

	c.logger.Debug("connection open")

	if panicked, recovered := c.emitter.emitOpen(); panicked {
		c.logger.WithField("recovered", recovered).Error("OnOpen panicked")
		c.emitter.emitError(fmt.Sprintf("OnOpen panicked: %v", recovered))
		c.fail(CloseInternalServerErr, "internal error in OnOpen")
		return nil
	}

	go c.serveReceive()
	return nil
}

// Dequeue removes and returns the oldest buffered MessageEvent, if any. Most
// applications consume messages via OnMessage instead; Dequeue exists for
// callers that prefer to poll the Event Queue directly.
func (c *Conn) Dequeue() (MessageEvent, bool) { return c.queue.dequeue() }

// Close sends a normal (1000) Close frame with an empty reason and waits up
// to Config.CloseTimeout for the peer's confirming Close.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// Dispose is equivalent to Close(1001, "Away").
func (c *Conn) Dispose() error {
	return c.CloseWithCode(CloseGoingAway, "Away")
}

// CloseWithCode initiates (or completes) the close handshake with the given
// status code and reason. Calling it after the connection has closed is a
// no-op that returns ErrAlreadyClosing; OnClose has already fired by then, so
// no OnError is delivered for it.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	if err := c.state.checkIfClosable(); err != nil {
		c.emitter.emitError(err.Error())
		return err
	}

	if len(reason)+2 > maxControlPayload {
		c.emitter.emitError(ErrReasonTooLong.Error())
		return ErrReasonTooLong
	}

	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closeErr = c.initiateClose(code, reason)
	})
	if !first {
		c.emitter.emitError(ErrAlreadyClosing.Error())
		return ErrAlreadyClosing
	}
	return c.closeErr
}

// initiateClose sends the Close frame (unless code is reserved), waits for
// the receive loop to observe the handshake's completion or time out, then
// tears down the stream and fires OnClose.
func (c *Conn) initiateClose(code CloseCode, reason string) error {
	c.state.transition(stateCloseSent)

	var sendErr error
	if !IsReserved(code) {
		payload, err := buildClosePayload(code, reason)
		if err != nil {
			sendErr = err
		} else {
			c.sendMu.Lock()
			sendErr = c.writeOut(true, opcodeClose, false, payload)
			c.sendMu.Unlock()
			if sendErr != nil {
				// Peer may already be gone; swallow I/O errors on the
				// close path, the handshake still completes from this
				// side's perspective.
				c.logger.WithError(sendErr).Debug("close frame send failed, peer likely gone")
				sendErr = nil
			}
		}
	}

	wasClean := c.waitForCloseHandshake()
	c.finish(wasClean, code, reason)
	return sendErr
}

// waitForCloseHandshake blocks until the receive loop signals it has
// observed a terminal condition (the peer's Close, or a read error/EOF), or
// until Config.CloseTimeout elapses. Returns whether the handshake was
// clean (completed before the timeout).
func (c *Conn) waitForCloseHandshake() bool {
	timeout := DefaultCloseTimeout
	if c.cfg != nil {
		timeout = c.cfg.CloseTimeout
	}

	select {
	case <-c.exitReceiving:
		return true
	case <-time.After(timeout):
		return false
	}
}

// finish releases the stream, moves to Closed, and emits OnClose exactly once.
func (c *Conn) finish(wasClean bool, code CloseCode, reason string) {
	c.state.transition(stateClosed)

	if c.closeHook != nil {
		if err := c.closeHook(); err != nil {
			c.logger.WithError(err).Debug("close hook failed")
		}
	}

	c.logger.WithFields(logrus.Fields{"code": int(code), "was_clean": wasClean}).Debug("connection closed")

	if panicked, recovered := c.emitter.emitClose(CloseEvent{WasClean: wasClean, Code: code, Reason: reason}); panicked {
		c.logger.WithField("recovered", recovered).Error("OnClose panicked")
		c.emitter.emitError(fmt.Sprintf("OnClose panicked: %v", recovered))
	}
}

// fail is the Receive Loop's entry point for protocol/I/O errors that must
// escalate to a close with the given status code.
func (c *Conn) fail(code CloseCode, reason string) {
	c.closeOnce.Do(func() {
		c.state.transition(stateCloseSent)

		if !IsReserved(code) {
			if payload, err := buildClosePayload(code, reason); err == nil {
				c.sendMu.Lock()
				_ = c.writeOut(true, opcodeClose, false, payload)
				c.sendMu.Unlock()
			}
		}
		c.finish(false, code, reason)
	})
}

// markExitReceiving signals the close-wait latch exactly once.
func (c *Conn) markExitReceiving() {
	c.exitOnce.Do(func() { close(c.exitReceiving) })
}

// validateText checks RFC 6455 Section 8.1's UTF-8 requirement for a fully
// assembled Text message.
func validateText(msgType MessageType, payload []byte) error {
	if msgType == TextMessage && !utf8.Valid(payload) {
		return ErrInvalidUTF8
	}
	return nil
}
