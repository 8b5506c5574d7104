// Package hub fans activity records out to live websocket subscribers.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tsangwailam/mcclaw/internal/activity"
)

// Path is where the stream is served.
const Path = "/api/activity-stream"

// Message kinds.
const (
	KindConnected = "connected"
	KindActivity  = "activity"
)

// Message is one frame on the stream.
type Message struct {
	Kind      string    `json:"type"`
	Payload   any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue full")
)

// Conn is a subscriber connection as seen by the hub.
type Conn interface {
	// Send queues data without blocking.
	Send(data []byte) error
	Open() bool
	Close() error
}

// Hub tracks open connections and broadcasts to them.
type Hub struct {
	mu        sync.RWMutex
	conns     map[Conn]struct{}
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	queueSize int
	now       func() time.Time
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[Conn]struct{}),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is served with a wildcard CORS policy, the stream follows it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize: 64,
		now:       time.Now,
	}
}

// Register adds c and sends it the connected acknowledgement.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug("Subscriber connected", "subscribers", n)

	data, err := json.Marshal(Message{
		Kind:      KindConnected,
		Message:   "Connected to activity stream",
		Timestamp: h.now(),
	})
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		h.logger.Debug("Failed to acknowledge subscriber", "error", err)
	}
}

// Unregister removes c. Unknown connections are ignored.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("Subscriber disconnected", "subscribers", n)
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends rec to every open connection. Closed connections are
// dropped from the set.
func (h *Hub) Broadcast(rec activity.Record) {
	data, err := json.Marshal(Message{
		Kind:      KindActivity,
		Payload:   rec,
		Timestamp: h.now(),
	})
	if err != nil {
		h.logger.Warn("Failed to encode activity for broadcast", "id", rec.ID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		if !c.Open() {
			delete(h.conns, c)
			continue
		}
		switch err := c.Send(data); {
		case errors.Is(err, ErrClosed):
			delete(h.conns, c)
		case err != nil:
			h.logger.Debug("Dropped broadcast for slow subscriber", "id", rec.ID, "error", err)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.Close()
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it registered
// until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade request", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSConn(ws, h.queueSize)
	h.Register(c)
	defer func() {
		h.Unregister(c)
		c.Close()
	}()

	c.readLoop()
}
