// Package ws carries the two websocket surfaces: the UI client socket and
// the inbound node-to-node socket.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-node/internal/models"
	"chat-node/internal/observability"
	"chat-node/internal/rabbitmq"
)

// Hub maintains the set of connected UI clients. A node serves a single
// user, so there are no rooms: every client sees every server frame.
type Hub struct {
	clients  map[*websocket.Conn]ConnInfo
	writeMus map[*websocket.Conn]*sync.Mutex
	mu       sync.RWMutex
	events   rabbitmq.Publisher
	log      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(events rabbitmq.Publisher, log zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*websocket.Conn]ConnInfo),
		writeMus: make(map[*websocket.Conn]*sync.Mutex),
		events:   events,
		log:      log,
	}
}

// AddClient registers a UI websocket connection.
func (h *Hub) AddClient(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = info
	h.writeMus[conn] = &sync.Mutex{}
}

// RemoveClient removes a UI websocket connection.
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	delete(h.writeMus, conn)
}

// ClientCount reports the number of registered UI connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a server frame to every connected client. Connections
// that fail the write are closed and dropped.
func (h *Hub) Broadcast(frame models.ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Err(err).Msg("frame marshal failed")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.Send(conn, payload); err != nil {
			h.log.Warn().Err(err).Msg("websocket write error")
			conn.Close()
			h.publishWSError(conn, err)
			h.RemoveClient(conn)
		}
	}
}

// SendFrame pushes one server frame to a single connection.
func (h *Hub) SendFrame(conn *websocket.Conn, frame models.ServerFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return h.Send(conn, payload)
}

// Send writes a raw payload, serializing writes per connection.
func (h *Hub) Send(conn *websocket.Conn, payload []byte) error {
	h.mu.RLock()
	mu, ok := h.writeMus[conn]
	h.mu.RUnlock()
	if !ok {
		mu = &sync.Mutex{}
	}
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) publishWSError(conn *websocket.Conn, err error) {
	h.mu.RLock()
	info, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "client",
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"node": info.Node,
			"ip":   info.IP,
		},
	}

	_ = h.events.Publish(context.Background(), "ws_events.clients", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Node:      info.Node,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	observability.IncWSEvent("client", "ws_error")
}
