package client

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-node/internal/models"
)

// tempIDPrefix marks optimistic client-side message ids.
const tempIDPrefix = "temp-"

// hashBucketSeconds widens the timestamp so the client's clock and the
// node's assigned timestamp land in the same bucket.
const hashBucketSeconds = 5

// hashContentRunes caps how much content feeds the fingerprint.
const hashContentRunes = 100

// IsTempID reports whether an id was assigned optimistically by the client.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

type pendingEntry struct {
	tempID  string
	created time.Time
}

type resolvedEntry struct {
	realID string
	at     time.Time
}

// Reconciler maps optimistic temp ids to the node's real message ids. The
// node never echoes a temp id back, so the match is a content fingerprint:
// sender, a coarse timestamp bucket, and the head of the content.
type Reconciler struct {
	mu       sync.Mutex
	pending  map[uint64]pendingEntry
	resolved map[string]resolvedEntry
	window   time.Duration
	log      zerolog.Logger
}

// NewReconciler creates a Reconciler with the given pending window.
func NewReconciler(window time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		pending:  make(map[uint64]pendingEntry),
		resolved: make(map[string]resolvedEntry),
		window:   window,
		log:      log,
	}
}

// Fingerprint computes the content hash used to match an optimistic
// message against its authoritative twin.
func Fingerprint(sender string, timestamp int64, content string) uint64 {
	runes := []rune(content)
	if len(runes) > hashContentRunes {
		runes = runes[:hashContentRunes]
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s", sender, timestamp/hashBucketSeconds, string(runes))
	return h.Sum64()
}

// TrackPending records an optimistic message awaiting its real id.
func (r *Reconciler) TrackPending(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := Fingerprint(msg.Sender, msg.Timestamp, msg.Content)
	r.pending[fp] = pendingEntry{tempID: msg.ID, created: time.Now()}
}

// ResolveDirect binds a temp id to a real id using the node's direct
// response, the strongest signal available.
func (r *Reconciler) ResolveDirect(tempID, realID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[tempID] = resolvedEntry{realID: realID, at: time.Now()}
	for fp, p := range r.pending {
		if p.tempID == tempID {
			delete(r.pending, fp)
			break
		}
	}
}

// ResolveFromAuthoritative matches an authoritative message against the
// pending set. On a hit the temp id is returned and moved to resolved, so a
// push arriving before the HTTP response still reconciles instead of
// duplicating.
func (r *Reconciler) ResolveFromAuthoritative(msg models.Message) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp := Fingerprint(msg.Sender, msg.Timestamp, msg.Content)
	p, ok := r.pending[fp]
	if !ok {
		return "", false
	}
	delete(r.pending, fp)
	r.resolved[p.tempID] = resolvedEntry{realID: msg.ID, at: time.Now()}
	return p.tempID, true
}

// RealID returns the real id a temp id resolved to.
func (r *Reconciler) RealID(tempID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.resolved[tempID]
	return e.realID, ok
}

// PendingCount reports how many optimistic messages still await an id.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Merge folds the authoritative message list over the local one. The node
// wins every conflict: resolved temps are dropped in favor of their real
// twin, unresolved temps inside the pending window survive, and local
// messages with real ids the node does not know are discarded. Failed
// sends are kept unconditionally; the node never saw them, so only the
// user can dismiss them.
func (r *Reconciler) Merge(local, authoritative []models.Message) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make([]models.Message, 0, len(authoritative)+4)
	seen := make(map[string]bool, len(authoritative))
	for _, msg := range authoritative {
		merged = append(merged, msg)
		seen[msg.ID] = true
	}

	cutoff := time.Now().Add(-r.window)
	for _, msg := range local {
		if !IsTempID(msg.ID) {
			if !seen[msg.ID] {
				// The node is the source of truth; a real id it no longer
				// holds means the message was deleted or never persisted.
				r.log.Warn().Str("message_id", msg.ID).Msg("dropping message unknown to node")
			}
			continue
		}
		if e, ok := r.resolved[msg.ID]; ok {
			if !seen[e.realID] {
				r.log.Warn().Str("temp_id", msg.ID).Str("message_id", e.realID).Msg("resolved message missing from node")
			}
			continue
		}
		if msg.Status == models.StatusFailed {
			merged = append(merged, msg)
			continue
		}
		fp := Fingerprint(msg.Sender, msg.Timestamp, msg.Content)
		if p, ok := r.pending[fp]; ok && p.tempID == msg.ID && p.created.After(cutoff) {
			merged = append(merged, msg)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// Sweep drops pending and resolved entries older than the window.
func (r *Reconciler) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	for fp, p := range r.pending {
		if p.created.Before(cutoff) {
			r.log.Debug().Str("temp_id", p.tempID).Msg("pending send expired")
			delete(r.pending, fp)
		}
	}
	for tempID, e := range r.resolved {
		if e.at.Before(cutoff) {
			delete(r.resolved, tempID)
		}
	}
}
