package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin is accepted. The CORS middleware in front of this route
	// only sets response headers; it does not refuse upgrade requests.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// handleEventsStream upgrades to a WebSocket connection and relays the
// decision event stream (summary, snapshot, then live traffic) per
// SPEC_FULL.md §6.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("events stream upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	// Drain and discard any client-sent frames so the read side doesn't
	// block the connection's keepalive/close detection.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for msg := range sub.Messages() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
