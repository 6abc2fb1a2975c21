// Package realtime pushes events to connected clients over websockets.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/pkg/logger"
)

// Event types published by the services.
const (
	EventTaskCompleted      = "task.completed"
	EventStreakUpdated      = "streak.updated"
	EventEntitlementChanged = "entitlement.changed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// Event is a single message pushed to a user's open connections.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan Event
}

// Hub tracks open connections per user and fans events out to them. Slow
// consumers are dropped rather than allowed to block publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
	log     *logger.Logger
}

// NewHub constructs an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		log:     log,
	}
}

// Name implements system.Service.
func (h *Hub) Name() string { return "realtime" }

// Start implements system.Service. The hub is passive; connections arrive via
// Serve.
func (h *Hub) Start(context.Context) error { return nil }

// Stop closes every open connection.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
	return nil
}

// Serve registers an upgraded connection for userID and blocks until the peer
// disconnects. The caller owns the HTTP handler goroutine.
func (h *Hub) Serve(userID string, conn *websocket.Conn) {
	c := &client{userID: userID, conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	metrics.RealtimeConnected()
	h.log.WithField("user_id", userID).Debug("realtime client connected")

	go c.writePump()
	c.readPump(h)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)

	metrics.RealtimeDisconnected()
	h.log.WithField("user_id", c.userID).Debug("realtime client disconnected")
}

// Broadcast delivers an event to every open connection of userID. It never
// blocks; connections whose buffers are full miss the event.
func (h *Hub) Broadcast(userID string, ev Event) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for c := range h.clients[userID] {
		select {
		case c.send <- ev:
		default:
			h.log.WithField("user_id", userID).
				WithField("event", ev.Type).
				Debug("realtime buffer full, event dropped")
		}
	}
}

// Connections reports the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Clients only listen; any read error means the peer went away.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
