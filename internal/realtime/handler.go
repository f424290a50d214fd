package realtime

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin accepts requests without an Origin header (non-browser
// clients) and browser pages served from a loopback host.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ServeWS upgrades the request and attaches the connection to hub.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			logging.Warn("websocket upgrade failed", map[string]interface{}{"remote": r.RemoteAddr, "error": err.Error()})
			return
		}

		c := newClient(uuid.NewClientID(), conn, hub)
		if !hub.add(c) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}
