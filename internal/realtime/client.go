package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
)

// Client is one WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte // broadcasts; closed by the hub
	ctrl chan []byte // replies to client requests; never closed

	mu            sync.RWMutex
	subscriptions map[string]bool
}

func newClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 64),
		ctrl:          make(chan []byte, 8),
		subscriptions: make(map[string]bool),
	}
}

// wants reports whether the client receives events of typ. A client with no
// subscriptions receives everything. A subscription may name an exact type
// or a prefix ending in ".*", e.g. "export.*".
func (c *Client) wants(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 || c.subscriptions[typ] {
		return true
	}
	for s := range c.subscriptions {
		if strings.HasSuffix(s, ".*") && strings.HasPrefix(typ, strings.TrimSuffix(s, "*")) {
			return true
		}
	}
	return false
}

// request is a client-to-server message.
type request struct {
	Action string   `json:"action"`
	Events []string `json:"events,omitempty"`
}

// readPump handles client requests until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket read failed", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(map[string]interface{}{"action": "error", "error": "invalid message"})
			continue
		}

		switch req.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range req.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": req.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range req.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "unsubscribe_ack", "unsubscribed": req.Events})
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a control message; it is dropped when the queue is full.
func (c *Client) reply(v map[string]interface{}) {
	v["timestamp"] = time.Now().UnixMilli()
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.ctrl <- body:
	default:
	}
}

// writePump writes queued messages and keepalive pings until the hub
// closes send or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}

		case body := <-c.ctrl:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
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
