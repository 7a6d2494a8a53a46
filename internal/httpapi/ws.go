package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/nextwaves/rfid-edge/internal/bus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from POS terminals on other origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket attaches one bus subscriber per connection. The write
// pump owns all writes; the read pump only detects the peer going away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := s.bus.Subscribe()
	s.metrics.SetWSClients(s.bus.SubscriberCount())

	go s.readPump(conn, sub)
	go s.writePump(conn, sub)
}

func (s *Server) readPump(conn *websocket.Conn, sub *bus.Subscriber) {
	defer s.bus.Unsubscribe(sub)
	for {
		// Client frames carry nothing we act on; discard until error.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *bus.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.bus.Unsubscribe(sub)
		conn.Close()
		s.metrics.SetWSClients(s.bus.SubscriberCount())
	}()

	for {
		select {
		case frame, ok := <-sub.Events():
			if !ok {
				// Detached: pruned as too slow, or shutdown.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
