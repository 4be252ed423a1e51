package websocket

import "unicode/utf8"

// reservedCloseCodes are status codes RFC 6455 Section 7.4 defines but
// forbids transmitting: they only ever describe a local condition.
var reservedCloseCodes = map[CloseCode]bool{
	CloseNoStatusReceived: true,
	CloseAbnormalClosure:  true,
	CloseTLSHandshake:     true,
}

// IsReserved reports whether code is one of the three close codes that MUST
// NOT appear on the wire (1005, 1006, 1015).
func IsReserved(code CloseCode) bool {
	return reservedCloseCodes[code]
}

// isValidControlData reports whether a control frame payload satisfies the
// RFC 6455 Section 5.5 length bound.
func isValidControlData(data []byte) bool {
	return len(data) <= maxControlPayload
}

// buildClosePayload assembles a Close frame body: a 2-byte big-endian status
// code followed by an optional UTF-8 reason. The RFC caps the whole control
// frame at 125 bytes, so code+reason together must not exceed that.
func buildClosePayload(code CloseCode, reason string) ([]byte, error) {
	if reason != "" && !utf8.ValidString(reason) {
		return nil, ErrInvalidUTF8
	}

	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code & 0xFF)
	copy(payload[2:], reason)

	if !isValidControlData(payload) {
		return nil, ErrControlTooLarge
	}

	return payload, nil
}

// parseClosePayload splits a received Close frame body back into a status
// code and reason. Per RFC 6455 Section 5.5.1, an empty payload means no
// status code was sent; the caller treats this as CloseNoStatusReceived.
func parseClosePayload(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, ""
	}
	code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	return code, string(payload[2:])
}
