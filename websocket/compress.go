package websocket

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// compressionMode is the per-message compression negotiated for a Conn.
// RFC 6455 Section 3's "invariant for the lifetime of the connection" rule:
// once set at construction it never changes.
type compressionMode byte

const (
	compressionNone compressionMode = iota
	compressionDeflate
)

// deflateTrailer is the 4-byte sequence RFC 7692 Section 7.2.1 says a
// compressor appends and a decompressor must synthesize back: the
// permessage-deflate "no context takeover" framing around plain DEFLATE.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// compressor applies or reverses permessage-deflate compression on whole
// message payloads. A single compressor is reused across the messages of one
// Conn; flate.Writer/Reader are not safe for concurrent use, so callers must
// serialize access the same way the Sender/Receive Loop already do (under
// send_lock and the single receive goroutine respectively).
type compressor struct {
	mode compressionMode

	bufW *bytes.Buffer
	fw   *flate.Writer
}

func newCompressor(mode compressionMode) *compressor {
	c := &compressor{mode: mode}
	if mode == compressionDeflate {
		c.bufW = &bytes.Buffer{}
		fw, _ := flate.NewWriter(c.bufW, flate.BestSpeed)
		c.fw = fw
	}
	return c
}

// compress returns the permessage-deflate encoding of payload: DEFLATE
// output with the trailing empty-block marker (00 00 ff ff) stripped, per
// RFC 7692 Section 7.2.1.
func (c *compressor) compress(payload []byte) ([]byte, error) {
	if c.mode != compressionDeflate {
		return payload, nil
	}

	c.bufW.Reset()
	c.fw.Reset(c.bufW)

	if _, err := c.fw.Write(payload); err != nil {
		return nil, err
	}
	if err := c.fw.Flush(); err != nil {
		return nil, err
	}

	out := c.bufW.Bytes()
	out = bytes.TrimSuffix(out, deflateTrailer)

	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// decompress reverses compress: it appends the trailer flate.Reader expects
// and inflates the result, grounded on the same trick
// jason-cq-nats-server's websocket.go (and upstream nats-server) applies
// against compress/flate's Reader/Resetter interfaces.
func (c *compressor) decompress(payload []byte) ([]byte, error) {
	if c.mode != compressionDeflate {
		return payload, nil
	}

	buf := make([]byte, 0, len(payload)+len(deflateTrailer)+5)
	buf = append(buf, payload...)
	buf = append(buf, deflateTrailer...)
	// A final empty stored block ends the stream, so the reader reports
	// io.EOF rather than io.ErrUnexpectedEOF after the last sync block.
	buf = append(buf, 0x01, 0x00, 0x00, 0xff, 0xff)

	fr := flate.NewReader(bytes.NewReader(buf))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, err
	}
	return out, nil
}
