package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-node/internal/models"
	"chat-node/internal/node"
	"chat-node/internal/observability"
)

// ClientWebSocketHandler serves the UI client socket. Connected clients
// receive server frames pushed by the engine and submit client frames over
// the same connection.
type ClientWebSocketHandler struct {
	hub    *Hub
	engine *node.Engine
}

// NewClientWebSocketHandler constructs a ClientWebSocketHandler.
func NewClientWebSocketHandler(hub *Hub, engine *node.Engine) *ClientWebSocketHandler {
	return &ClientWebSocketHandler{hub: hub, engine: engine}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, registers the client, and replays the
// current chat state so a reconnecting client starts from a full snapshot.
func (h *ClientWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-node/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		Node:        h.engine.Self(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conn, info)

	observability.IncWSActive("client")
	observability.IncWSEvent("client", "ws_connect")

	// Snapshot replay: one ChatUpdate per chat, newest activity first.
	if chats, err := h.engine.GetChats(ctx); err == nil {
		for i := range chats {
			chat := chats[i]
			_ = h.hub.SendFrame(conn, models.ServerFrame{ChatUpdate: &chat})
		}
	}

	go func() {
		defer func() {
			h.hub.RemoveClient(conn)
			observability.DecWSActive("client")
			observability.IncWSEvent("client", "ws_disconnect")
			conn.Close()
		}()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("client", "ws_error")
				}
				return
			}

			var frame models.ClientFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				_ = h.hub.SendFrame(conn, models.ServerFrame{Error: &models.ErrorFrame{Message: "malformed frame"}})
				continue
			}
			h.engine.HandleClientFrame(frame, func(reply models.ServerFrame) {
				_ = h.hub.SendFrame(conn, reply)
			})
		}
	}()
}
