package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-node/internal/models"
	"chat-node/internal/presence"
)

// FrameHandler receives inbound frames read off a peer link.
type FrameHandler interface {
	HandlePeerFrame(from string, frame models.PeerFrame)
}

// Manager establishes and supervises outbound peer links. Dial attempts use
// bounded exponential backoff; once the attempts are exhausted the peer
// stays offline until the next nudge (typically the queue tick).
type Manager struct {
	self       string
	resolver   Resolver
	tracker    *presence.Tracker
	handler    FrameHandler
	maxRetries uint64
	log        zerolog.Logger

	mu      sync.Mutex
	dialing map[string]bool
}

// NewManager constructs a Manager.
func NewManager(self string, resolver Resolver, tracker *presence.Tracker, handler FrameHandler, maxRetries uint64, log zerolog.Logger) *Manager {
	return &Manager{
		self:       self,
		resolver:   resolver,
		tracker:    tracker,
		handler:    handler,
		maxRetries: maxRetries,
		log:        log,
		dialing:    make(map[string]bool),
	}
}

// Nudge asks the manager to establish a link to the peer. Single-flight per
// destination; a no-op when a dial is already in progress or the peer is
// online.
func (m *Manager) Nudge(node string) {
	if node == m.self || m.tracker.IsOnline(node) {
		return
	}

	m.mu.Lock()
	if m.dialing[node] {
		m.mu.Unlock()
		return
	}
	m.dialing[node] = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.dialing, node)
			m.mu.Unlock()
		}()
		m.dial(node)
	}()
}

func (m *Manager) dial(node string) {
	url := m.resolver.Resolve(node)

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
	), m.maxRetries)

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		c, _, err := dialer.Dial(fmt.Sprintf("%s?node=%s", url, m.self), nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		m.log.Warn().Str("node", node).Err(err).Msg("peer dial attempts exhausted")
		return
	}

	ch := NewWSChannel(conn)
	m.tracker.SetOnline(node, ch)
	m.readLoop(node, conn)
}

// readLoop consumes frames until the connection drops, then flips the peer
// offline.
func (m *Manager) readLoop(node string, conn *websocket.Conn) {
	defer m.tracker.SetOffline(node)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Debug().Str("node", node).Err(err).Msg("peer link closed")
			}
			return
		}

		var frame models.PeerFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			m.log.Warn().Str("node", node).Err(err).Msg("malformed peer frame")
			continue
		}
		m.handler.HandlePeerFrame(node, frame)
	}
}

// ChannelSender performs the delivery queue's network hop through the
// presence tracker's channel for the destination.
type ChannelSender struct {
	tracker *presence.Tracker
}

// NewChannelSender constructs a ChannelSender.
func NewChannelSender(tracker *presence.Tracker) *ChannelSender {
	return &ChannelSender{tracker: tracker}
}

// Send pushes a ReceiveMessage frame to the destination, or fails when no
// channel is connected.
func (s *ChannelSender) Send(ctx context.Context, destination string, msg models.Message) error {
	ch, ok := s.tracker.ChannelFor(destination)
	if !ok {
		return fmt.Errorf("peer %s: no connected channel", destination)
	}
	m := msg
	return ch.SendFrame(models.PeerFrame{ReceiveMessage: &m})
}
