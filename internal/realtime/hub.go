// Package realtime pushes store change events to WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

// =====================================================
// WebSocket Event Types
// =====================================================

const (
	EventFoodCardsChanged   = "food_cards.changed"
	EventMealRecordsChanged = "meal_records.changed"

	EventExportStarted   = "export.started"
	EventExportCompleted = "export.completed"
	EventExportFailed    = "export.failed"
)

// Envelope wraps every message sent to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"` // Unix milliseconds
}

type message struct {
	typ  string
	body []byte
}

// Hub tracks connected clients and fans out broadcasts. All client set
// mutations happen on the Run goroutine.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex // guards count for readers outside Run
	count int
}

// NewHub creates a hub. Nothing is delivered until Run is called.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.setCount(len(h.clients))
			logging.Debug("websocket client connected", map[string]interface{}{"client": c.id, "total": len(h.clients)})

		case c := <-h.unregister:
			h.drop(c)

		case m := <-h.broadcast:
			for _, c := range h.clients {
				if !c.wants(m.typ) {
					continue
				}
				select {
				case c.send <- m.body:
				default:
					// Slow client.
					h.drop(c)
				}
			}

		case <-ctx.Done():
			for _, c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.setCount(len(h.clients))
	logging.Debug("websocket client disconnected", map[string]interface{}{"client": c.id, "total": len(h.clients)})
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues an event for every interested client. It drops the event
// when the hub has stopped or its queue is full.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	body, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logging.Error("failed to marshal websocket event", err, map[string]interface{}{"type": eventType})
		return
	}
	select {
	case h.broadcast <- message{typ: eventType, body: body}:
	case <-h.done:
	default:
		logging.Warn("websocket broadcast queue full", map[string]interface{}{"type": eventType})
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
