// Package telemetry is a minimal websocket broadcast hub for pool
// utilization events, grounded on the teacher's pkg/api/server.go Client/
// send-channel registration pattern, narrowed to one topic:
// "usenet-connections" (spec.md §6, "Telemetry event").
package telemetry

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"nntppool/pkg/logger"
)

const Topic = "usenet-connections"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans out telemetry strings to every connected websocket client. Slow
// or gone clients are dropped rather than allowed to stall a broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	conn *websocket.Conn
	send chan string
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a telemetry subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("telemetry: upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan string, 16)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.conn.Close()
	}()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
}

// Broadcast pushes msg to every currently-connected client, dropping it for
// any client whose send buffer is full rather than blocking (spec.md §4.2,
// "Observer ... must not block").
func (h *Hub) Broadcast(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
