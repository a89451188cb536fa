package ws

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-node/internal/models"
	"chat-node/internal/node"
	"chat-node/internal/observability"
	"chat-node/internal/peer"
	"chat-node/internal/presence"
)

// PeerWebSocketHandler accepts inbound node-to-node connections. The remote
// node identifies itself with the node query parameter; the connection then
// doubles as the return channel for acks to that peer.
type PeerWebSocketHandler struct {
	tracker *presence.Tracker
	engine  *node.Engine
}

// NewPeerWebSocketHandler constructs a PeerWebSocketHandler.
func NewPeerWebSocketHandler(tracker *presence.Tracker, engine *node.Engine) *PeerWebSocketHandler {
	return &PeerWebSocketHandler{tracker: tracker, engine: engine}
}

// Handle upgrades the connection and marks the peer online for as long as
// the socket stays up.
func (h *PeerWebSocketHandler) Handle(c *gin.Context) {
	from := c.Query("node")
	if from == "" || from == h.engine.Self() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node identity"})
		return
	}

	ctx, span := otel.Tracer("chat-node/ws").Start(c.Request.Context(), "peer.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	channel := peer.NewWSChannel(conn)
	h.tracker.SetOnline(from, channel)
	observability.IncWSActive("peer")
	observability.IncWSEvent("peer", "ws_connect")

	go func() {
		defer func() {
			h.tracker.SetOffline(from)
			observability.DecWSActive("peer")
			observability.IncWSEvent("peer", "ws_disconnect")
			conn.Close()
		}()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("peer", "ws_error")
				}
				return
			}

			var frame models.PeerFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				observability.IncWSEvent("peer", "bad_frame")
				continue
			}
			h.engine.HandlePeerFrame(from, frame)
		}
	}()
}
