package websocket

import (
	"bufio"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Magic GUID from RFC 6455 Section 1.3, used to compute Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// permessageDeflate is the only extension token this package negotiates.
const permessageDeflate = "permessage-deflate"

// UpgradeOptions configures WebSocket upgrade behavior. All fields are
// optional; zero values use sensible defaults.
type UpgradeOptions struct {
	// Subprotocols is the list of subprotocols advertised by the server.
	// The server selects the first match from the client's requested list.
	Subprotocols []string

	// CheckOrigin verifies the Origin header. nil allows all origins.
	CheckOrigin func(*http.Request) bool

	// Config tunes buffer sizes, timeouts, and frame limits (see config.go).
	// nil resolves to the named defaults.
	Config *Config

	// EnableCompression negotiates permessage-deflate when the client
	// offers it in Sec-WebSocket-Extensions.
	EnableCompression bool
}

// Upgrade upgrades an HTTP connection to the WebSocket protocol
// (RFC 6455 Section 4: Opening Handshake) and returns a Conn in the
// Connecting state. Callers register OnOpen/OnMessage/OnError/OnClose and
// then call ConnectAsServer to start receiving.
//
//nolint:gocyclo,cyclop // handshake requires many validation steps per RFC 6455
func Upgrade(w http.ResponseWriter, r *http.Request, opts *UpgradeOptions) (*Conn, error) {
	if opts == nil {
		opts = &UpgradeOptions{}
	}
	cfg := opts.Config.Normalize()

	if r.Method != http.MethodGet {
		return nil, ErrInvalidMethod
	}
	if !httpguts.HeaderValuesContainsToken(r.Header.Values("Upgrade"), "websocket") {
		return nil, ErrMissingUpgrade
	}
	if !httpguts.HeaderValuesContainsToken(r.Header.Values("Connection"), "upgrade") {
		return nil, ErrMissingConnection
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, ErrInvalidVersion
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrMissingSecKey
	}

	if opts.CheckOrigin != nil && !opts.CheckOrigin(r) {
		return nil, ErrOriginDenied
	}

	subprotocol := negotiateSubprotocol(r, opts.Subprotocols)
	compression := (opts.EnableCompression || cfg.EnableCompression) && clientOffersDeflate(r)
	accept := computeAcceptKey(key)

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", accept)
	if subprotocol != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if compression {
		w.Header().Set("Sec-WebSocket-Extensions", permessageDeflate+"; server_no_context_takeover; client_no_context_takeover")
	}
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, ErrHijackFailed
	}

	netConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return nil, err
	}

	if err := bufrw.Flush(); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	var reader *bufio.Reader
	if bufrw.Reader.Size() >= cfg.ReadBufferSize {
		reader = bufrw.Reader
	} else {
		reader = bufio.NewReaderSize(netConn, cfg.ReadBufferSize)
	}
	writer := bufio.NewWriterSize(netConn, cfg.WriteBufferSize)

	conn := NewConn(true)
	if err := conn.SetContext(netConn, reader, writer, netConn.Close, ContextOptions{
		Subprotocol: subprotocol,
		Compression: compression,
		Secure:      r.TLS != nil,
		Config:      cfg,
	}); err != nil {
		_ = netConn.Close()
		return nil, err
	}

	return conn, nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from the client key
// (RFC 6455 Section 1.3): base64(SHA-1(key + GUID)).
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// negotiateSubprotocol selects the first match from the client's requested
// subprotocols (RFC 6455 Section 1.9: server selects exactly one).
func negotiateSubprotocol(r *http.Request, serverProtos []string) string {
	if len(serverProtos) == 0 {
		return ""
	}

	clientProtos := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for _, clientProto := range clientProtos {
		clientProto = strings.TrimSpace(clientProto)
		for _, serverProto := range serverProtos {
			if clientProto == serverProto {
				return clientProto
			}
		}
	}

	return ""
}

// clientOffersDeflate reports whether the client's Sec-WebSocket-Extensions
// header lists permessage-deflate, per RFC 7692 Section 5.
func clientOffersDeflate(r *http.Request) bool {
	for _, field := range r.Header.Values("Sec-WebSocket-Extensions") {
		for _, offer := range strings.Split(field, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(offer), ";")
			if strings.EqualFold(strings.TrimSpace(name), permessageDeflate) {
				return true
			}
		}
	}
	return false
}

// checkSameOrigin is a ready-to-use CheckOrigin for production use: it
// requires the Origin header (when present) to match the request's scheme
// and host.
func checkSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return origin == scheme+"://"+r.Host
}
