package websocket

import (
	"encoding/json/v2"
	"sync"
)

// Hub manages multiple WebSocket connections for broadcasting.
//
// Hub provides a central point for managing WebSocket clients and
// broadcasting messages to all connected clients simultaneously. Thread-safe
// operations allow concurrent client registration, unregistration, and
// broadcasting from multiple goroutines.
//
// Example usage:
//
//	hub := websocket.NewHub()
//	go hub.Run()
//	defer hub.Close()
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//	    conn, _ := websocket.Upgrade(w, r, nil)
//	    hub.Register(conn)
//	    conn.OnClose(func(websocket.CloseEvent) { hub.Unregister(conn) })
//	    conn.OnMessage(func(_ websocket.MessageType, data []byte) { hub.Broadcast(data) })
//	    conn.ConnectAsServer()
//	})
type Hub struct {
	clients map[*Conn]bool

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan []byte

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// NewHub creates a new WebSocket Hub. The Hub must be started with Run in a
// goroutine before Register/Broadcast are useful.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's event loop. Blocks; call in a goroutine. Exits once
// Close is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client := client
				go func(msg []byte) {
					if err := client.SendAsync(msg).Wait(); err != nil {
						h.Unregister(client)
					}
				}(message)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds a client to the Hub; it will receive all Broadcast messages.
func (h *Hub) Register(client *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.register <- client
}

// Unregister removes a client from the Hub and closes its connection. Safe
// to call multiple times for the same client.
func (h *Hub) Unregister(client *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.unregister <- client
}

// Broadcast queues message for asynchronous delivery to every registered
// client as a Binary message. A client whose send fails is auto-unregistered.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.broadcast <- message
}

// BroadcastText sends the UTF-8 bytes of text to all connected clients. It
// goes through Broadcast, so each client receives a Binary message; no Text
// opcode frame is sent.
func (h *Hub) BroadcastText(text string) {
	h.Broadcast([]byte(text))
}

// BroadcastJSON marshals v to JSON and broadcasts it through Broadcast, so
// each client receives it as a Binary message, not a Text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the Hub and disconnects all clients. Safe to call multiple times.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for client := range h.clients {
		_ = client.Close()
	}
	h.clients = make(map[*Conn]bool)
	h.mu.Unlock()

	close(h.register)
	close(h.unregister)
	close(h.broadcast)

	return nil
}
