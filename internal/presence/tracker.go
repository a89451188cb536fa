// Package presence tracks which peer identities currently hold a live
// outbound channel. Entries are transient: they are rebuilt from connection
// events and never persisted.
package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-node/internal/models"
)

// Channel pushes JSON frames to one connected peer. Implementations report
// an error when the underlying connection is gone.
type Channel interface {
	SendFrame(frame models.PeerFrame) error
	Close() error
}

type entry struct {
	channel  Channel
	lastSeen time.Time
}

// Tracker maintains the online/offline state per known identity. An
// offline-to-online transition fires the registered callbacks (the delivery
// queue hooks its flush here).
type Tracker struct {
	mu       sync.RWMutex
	peers    map[string]entry
	onOnline []func(node string)
	log      zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{
		peers: make(map[string]entry),
		log:   log,
	}
}

// OnOnline registers a callback invoked whenever a previously-offline peer
// comes online. Callbacks run on the caller's goroutine, outside the lock.
func (t *Tracker) OnOnline(fn func(node string)) {
	t.mu.Lock()
	t.onOnline = append(t.onOnline, fn)
	t.mu.Unlock()
}

// SetOnline binds a channel to the peer identity. A channel replacing an
// existing one closes the old connection; callbacks fire only on a real
// offline-to-online transition.
func (t *Tracker) SetOnline(node string, ch Channel) {
	t.mu.Lock()
	old, wasOnline := t.peers[node]
	t.peers[node] = entry{channel: ch, lastSeen: time.Now()}
	callbacks := t.onOnline
	t.mu.Unlock()

	if wasOnline && old.channel != ch {
		_ = old.channel.Close()
	}
	if !wasOnline {
		t.log.Info().Str("node", node).Msg("peer online")
		for _, fn := range callbacks {
			fn(node)
		}
	}
}

// SetOffline drops the peer's channel. Offline transitions do not flush
// anything; they only make subsequent queue ticks skip the destination.
func (t *Tracker) SetOffline(node string) {
	t.mu.Lock()
	e, ok := t.peers[node]
	delete(t.peers, node)
	t.mu.Unlock()

	if ok {
		_ = e.channel.Close()
		t.log.Info().Str("node", node).Msg("peer offline")
	}
}

// MarkOffline satisfies the delivery queue's narrow presence view.
func (t *Tracker) MarkOffline(node string) { t.SetOffline(node) }

// IsOnline reports whether the peer has a live channel.
func (t *Tracker) IsOnline(node string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[node]
	return ok
}

// ChannelFor returns the peer's channel, or false when none is connected.
func (t *Tracker) ChannelFor(node string) (Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.peers[node]
	if !ok {
		return nil, false
	}
	return e.channel, true
}

// Touch refreshes the peer's last-seen timestamp, e.g. on a heartbeat.
func (t *Tracker) Touch(node string) {
	t.mu.Lock()
	if e, ok := t.peers[node]; ok {
		e.lastSeen = time.Now()
		t.peers[node] = e
	}
	t.mu.Unlock()
}

// Online lists every currently-connected peer identity.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes := make([]string, 0, len(t.peers))
	for node := range t.peers {
		nodes = append(nodes, node)
	}
	return nodes
}
