// Package peer carries node-to-node traffic: JSON frames over persistent
// WebSocket links, one link per counterparty.
package peer

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"chat-node/internal/models"
)

// WSChannel adapts a websocket connection to the presence.Channel frame
// push. Writes are serialized; a failed write leaves the connection closed.
type WSChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSChannel wraps an established connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

// SendFrame pushes one frame to the peer.
func (c *WSChannel) SendFrame(frame models.PeerFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close tears down the underlying connection.
func (c *WSChannel) Close() error {
	return c.conn.Close()
}
