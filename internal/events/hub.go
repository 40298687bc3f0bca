// Package events pushes bundle lifecycle notifications to subscribed
// WebSocket clients.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// sendBuffer is the per-client event queue. A client that falls this far
// behind starts losing events rather than blocking the broadcaster.
const sendBuffer = 32

// Event is one lifecycle notification pushed to subscribers.
type Event struct {
	Type      string `json:"type"`
	Bundle    string `json:"bundle,omitempty"`
	UserID    int32  `json:"userId,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans bundle events out to connected WebSocket clients.
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an event hub with no subscribers.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log.Named("events"),
		clients: make(map[*client]struct{}),
	}
}

// NotifyBundleEvent broadcasts one lifecycle event.
func (h *Hub) NotifyBundleEvent(event, bundleName string, userID int32) {
	h.broadcast(Event{
		Type:      event,
		Bundle:    bundleName,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	})
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("slow event subscriber, dropping event",
				zap.String("type", ev.Type),
				zap.String("bundle", ev.Bundle))
		}
	}
}

// HandleConnection handles WebSocket upgrade and messages.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cl := &client{conn: conn, send: make(chan Event, sendBuffer)}
	h.register(cl)
	defer h.unregister(cl)

	go cl.writePump()

	cl.send <- Event{
		Type:      "system",
		Message:   "Connected to bundle event stream",
		Timestamp: time.Now().Unix(),
	}

	// Listen for messages
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "ping":
			cl.send <- Event{Type: "pong", Timestamp: time.Now().Unix()}
		default:
			cl.send <- Event{
				Type:      "error",
				Message:   "unknown message type",
				Timestamp: time.Now().Unix(),
			}
		}
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	close(cl.send)
}

// writePump serializes all writes to one connection. The send channel is
// closed on unregister, which ends the pump.
func (cl *client) writePump() {
	for ev := range cl.send {
		if err := cl.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
