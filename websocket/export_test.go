package websocket

// This file exports internal types and functions for testing.

import (
	"bufio"
	"net"
)

// Test exports for frame operations.

// FrameForTest is an exported version of frame for testing.
type FrameForTest struct {
	Fin     bool
	Rsv1    bool
	Rsv2    bool
	Rsv3    bool
	Opcode  byte
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// ReadFrameForTest reads a frame (exported for testing). allowRSV1 enables
// the permessage-deflate RSV1 bit; maxPayload <= 0 uses the package default.
func ReadFrameForTest(r *bufio.Reader, enforceMask, allowRSV1 bool, maxPayload int64) (*FrameForTest, error) {
	if maxPayload <= 0 {
		maxPayload = defaultMaxFramePayload
	}

	f, err := readFrame(r, enforceMask, allowRSV1, maxPayload)
	if err != nil {
		return nil, err
	}

	return &FrameForTest{
		Fin:     f.fin,
		Rsv1:    f.rsv1,
		Rsv2:    f.rsv2,
		Rsv3:    f.rsv3,
		Opcode:  f.opcode,
		Masked:  f.masked,
		Mask:    f.mask,
		Payload: f.payload,
	}, nil
}

// WriteFrameForTest writes a frame (exported for testing), applying the
// same control-frame validation as writeFrame.
func WriteFrameForTest(w *bufio.Writer, ft *FrameForTest) error {
	return writeFrame(w, ft.toFrame())
}

// WriteFrameNoValidationForTest writes a frame without validation, for
// constructing protocol-violating test fixtures.
func WriteFrameNoValidationForTest(w *bufio.Writer, ft *FrameForTest) error {
	return writeFrameNoValidation(w, ft.toFrame())
}

func (ft *FrameForTest) toFrame() *frame {
	return &frame{
		fin:     ft.Fin,
		rsv1:    ft.Rsv1,
		rsv2:    ft.Rsv2,
		rsv3:    ft.Rsv3,
		opcode:  ft.Opcode,
		masked:  ft.Masked,
		mask:    ft.Mask,
		payload: ft.Payload,
	}
}

// GetReaderForTest returns the internal reader from Conn (exported for testing).
func GetReaderForTest(conn *Conn) *bufio.Reader {
	return conn.reader
}

// GetWriterForTest returns the internal writer from Conn (exported for testing).
func GetWriterForTest(conn *Conn) *bufio.Writer {
	return conn.writer
}

// ApplyMaskForTest applies the XOR mask to payload (exported for testing).
func ApplyMaskForTest(data []byte, mask [4]byte) {
	applyMask(data, mask)
}

// Opcode constants for testing.
const (
	OpcodeContinuationForTest = opcodeContinuation
	OpcodeTextForTest         = opcodeText
	OpcodeBinaryForTest       = opcodeBinary
	OpcodeCloseForTest        = opcodeClose
	OpcodePingForTest         = opcodePing
	OpcodePongForTest         = opcodePong
)

// NewConnForTest creates a fully-initialized Conn bound to a raw net.Conn,
// for tests that drive a manually-handshaked connection without going
// through Upgrade. isServer selects server-side framing rules (peer frames
// must be masked, own frames must not be).
func NewConnForTest(conn net.Conn, reader *bufio.Reader, isServer bool) *Conn {
	c := NewConn(isServer)
	_ = c.SetContext(conn, reader, bufio.NewWriter(conn), conn.Close, ContextOptions{
		Config: DefaultConfigForTest(),
	})
	return c
}

// NewConnForTestWithCompression is NewConnForTest with permessage-deflate
// negotiated, for compression-path tests.
func NewConnForTestWithCompression(conn net.Conn, reader *bufio.Reader, isServer bool) *Conn {
	c := NewConn(isServer)
	_ = c.SetContext(conn, reader, bufio.NewWriter(conn), conn.Close, ContextOptions{
		Compression: true,
		Config:      DefaultConfigForTest(),
	})
	return c
}

// DefaultConfigForTest returns a normalized default Config, exported so
// tests can build ContextOptions without reaching into unexported fields.
func DefaultConfigForTest() *Config {
	return (&Config{}).Normalize()
}

// StateForTest reports the Conn's current connection state as a string,
// for assertions that don't want to depend on unexported state values.
func StateForTest(conn *Conn) string {
	return conn.state.current().String()
}
