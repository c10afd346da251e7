package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport is one bidirectional client connection. The WebSocket
// handler wraps *websocket.Conn; tests substitute fakes.
type Transport interface {
	// WriteJSON sends one envelope. Per-transport writes are FIFO;
	// implementations must serialize their own writer.
	WriteJSON(v any) error
	// Close tears the connection down.
	Close() error
}

// Client is one registered operator connection.
type Client struct {
	ID          string
	ConnectedAt time.Time
	transport   Transport
}

// Hub fans envelopes out to connected operator clients. The client
// set is guarded by a mutex; a broadcast works on a snapshot and a
// failing transport is removed from the set. Delivery order across
// clients is unspecified; per-client order is FIFO.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Connect registers a transport, assigns it a client id, and sends the
// connected envelope.
func (h *Hub) Connect(t Transport) (*Client, error) {
	c := &Client{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		transport:   t,
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", "client_id", shortID(c.ID), "total", count)

	err := t.WriteJSON(map[string]any{
		"type":      "connected",
		"client_id": shortID(c.ID),
		"timestamp": c.ConnectedAt.Format(time.RFC3339),
	})
	if err != nil {
		h.Disconnect(c)
		return nil, err
	}
	return c, nil
}

// Disconnect removes a client and closes its transport. Safe to call
// for an already-removed client.
func (h *Hub) Disconnect(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	_, present := h.clients[c.ID]
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()

	if present {
		_ = c.transport.Close()
		h.logger.Info("client disconnected", "client_id", shortID(c.ID), "total", count)
	}
}

// Broadcast sends an envelope to every connected client and returns
// how many received it. Failing transports are disconnected. The
// client set is snapshotted so writes happen outside the lock.
func (h *Hub) Broadcast(envelope map[string]any) int {
	if envelope["timestamp"] == nil {
		envelope["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	h.mu.Lock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range snapshot {
		if err := c.transport.WriteJSON(envelope); err != nil {
			h.logger.Warn("broadcast failed, dropping client",
				"client_id", shortID(c.ID), "error", err)
			h.Disconnect(c)
			continue
		}
		sent++
	}

	h.logger.Debug("broadcast", "type", envelope["type"], "sent", sent)
	return sent
}

// BroadcastRefresh tells operator UIs to re-query the given scope.
// Scope values: "all", "conversations", "dashboard".
func (h *Hub) BroadcastRefresh(scope, reason string) int {
	if scope == "" {
		scope = "conversations"
	}
	return h.Broadcast(map[string]any{
		"type":   "refresh",
		"scope":  scope,
		"reason": reason,
	})
}

// Relay reads events from a bus subscription channel and forwards
// refresh and staff-alert events to connected clients until the
// channel is closed. Run as a goroutine.
func (h *Hub) Relay(events <-chan Event) {
	for e := range events {
		switch e.Kind {
		case KindRefresh:
			scope, _ := e.Data["scope"].(string)
			reason, _ := e.Data["reason"].(string)
			h.BroadcastRefresh(scope, reason)
		case KindStaffAlert:
			envelope := map[string]any{"type": "staff_alert"}
			for k, v := range e.Data {
				envelope[k] = v
			}
			h.Broadcast(envelope)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
