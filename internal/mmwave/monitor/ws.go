package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/mmwave/internal/monitoring"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

type hub struct {
	messages chan []byte

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

func newHub(buffer int) *hub {
	return &hub{
		messages: make(chan []byte, buffer),
		clients:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

// offer queues payload without blocking and reports whether it fit.
func (h *hub) offer(payload []byte) bool {
	select {
	case h.messages <- payload:
		return true
	default:
		return false
	}
}

// Run broadcasts queued track messages until ctx ends, then closes every
// client.
func (m *Monitor) Run(ctx context.Context) {
	h := m.hub
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.messages:
			h.broadcast(payload)
		}
	}
}

func (h *hub) broadcast(payload []byte) {
	var stale []*websocket.Conn
	h.mu.Lock()
	for conn, writeMu := range h.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range stale {
		h.remove(conn)
	}
}

func (h *hub) add(conn *websocket.Conn) *sync.Mutex {
	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	h.mu.Unlock()
	return writeMu
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

// handleWS registers a client, greets it and then only reads to service
// pongs and detect disconnects.
func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[monitor] websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	h := m.hub
	writeMu := h.add(conn)
	writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(map[string]any{"type": "hello", "frames": m.frames.Load()})
	writeMu.Unlock()
	if err != nil {
		h.remove(conn)
		return
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
