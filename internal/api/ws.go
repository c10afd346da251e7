package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader accepts operator UI connections. The surface is deployed
// behind the operator's own network boundary; origin checks are the
// reverse proxy's job.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriteTimeout bounds one frame write; a stalled client is dropped
// by the hub on the next broadcast.
const wsWriteTimeout = 10 * time.Second

// wsTransport adapts a gorilla connection to the hub's Transport.
// gorilla allows one concurrent writer, so writes are serialized.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// handleWebSocket upgrades the connection, registers it with the hub,
// and runs the read loop: "ping" gets a pong, anything else is
// ignored, and a read error tears the client down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	transport := &wsTransport{conn: conn}
	client, err := s.hub.Connect(transport)
	if err != nil {
		s.logger.Debug("websocket connect failed", "error", err)
		return
	}
	defer s.hub.Disconnect(client)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "ping" {
			if err := transport.WriteJSON(map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
