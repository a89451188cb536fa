// Package delivery owns the per-destination retry queues. Every accepted
// outbound message stays queued, in original send order, until the
// destination acknowledges it; there is no retry cap and no timeout-based
// eviction.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-node/internal/models"
	"chat-node/internal/observability"
)

// Sender performs the actual network hop for one message.
type Sender interface {
	Send(ctx context.Context, destination string, msg models.Message) error
}

// Presence is the queue's narrow view of the presence tracker.
type Presence interface {
	IsOnline(node string) bool
	MarkOffline(node string)
}

// Dialer nudges the transport to (re)establish a link to a peer. May be nil.
type Dialer interface {
	Nudge(node string)
}

type destQueue struct {
	flushMu sync.Mutex // serializes flushes per destination
	entries []*models.DeliveryEntry
}

// Queue is the delivery queue keyed by destination identity. Distinct
// destinations are processed independently; a single destination's entries
// are mutated under one lock and flushed by one goroutine at a time,
// preserving FIFO order.
type Queue struct {
	sender   Sender
	presence Presence
	dialer   Dialer
	tick     time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	queues map[string]*destQueue
}

// NewQueue constructs a Queue. dialer may be nil.
func NewQueue(sender Sender, presence Presence, dialer Dialer, tick time.Duration, log zerolog.Logger) *Queue {
	return &Queue{
		sender:   sender,
		presence: presence,
		dialer:   dialer,
		tick:     tick,
		log:      log,
		queues:   make(map[string]*destQueue),
	}
}

// SetDialer installs the dialer after construction. The transport manager
// depends on the engine, which depends on the queue, so the dialer arrives
// late during wiring.
func (q *Queue) SetDialer(dialer Dialer) {
	q.dialer = dialer
}

// Enqueue appends the message to the destination's queue and, when the
// destination is already online, attempts immediate delivery instead of
// waiting for the next tick.
func (q *Queue) Enqueue(destination string, msg models.Message) {
	entry := &models.DeliveryEntry{
		Destination: destination,
		Message:     msg,
		EnqueuedAt:  time.Now().Unix(),
	}

	q.mu.Lock()
	dq := q.queueFor(destination)
	dq.entries = append(dq.entries, entry)
	depth := len(dq.entries)
	q.mu.Unlock()

	observability.SetQueueDepth(destination, depth)

	if q.presence.IsOnline(destination) {
		go q.Flush(context.Background(), destination)
	} else if q.dialer != nil {
		q.dialer.Nudge(destination)
	}
}

// Ack removes the matching entry. Acking an id that is not queued is a
// no-op, which covers duplicate and late acks.
func (q *Queue) Ack(destination, messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dq, ok := q.queues[destination]
	if !ok {
		return
	}
	for i, entry := range dq.entries {
		if entry.Message.ID == messageID {
			dq.entries = append(dq.entries[:i], dq.entries[i+1:]...)
			break
		}
	}
	if len(dq.entries) == 0 {
		delete(q.queues, destination)
	}
	observability.SetQueueDepth(destination, len(dq.entries))
}

// OnPresenceOnline flushes the destination's entire queue in original order,
// bypassing the wait for the next tick. Registered with the presence
// tracker; this is the immediate-delivery-on-reconnect path.
func (q *Queue) OnPresenceOnline(node string) {
	go q.Flush(context.Background(), node)
}

// Run drives the retry loop until ctx is cancelled. Each tick attempts
// delivery for every destination with a non-empty queue; offline
// destinations are skipped (and nudged when a dialer is present).
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, destination := range q.destinations() {
				if !q.presence.IsOnline(destination) {
					if q.dialer != nil {
						q.dialer.Nudge(destination)
					}
					continue
				}
				q.Flush(ctx, destination)
			}
		}
	}
}

// Flush attempts, in FIFO order, every entry queued for the destination.
// Entries are not removed on success; only an ack removes them. The first
// failed send marks the destination offline and stops the pass.
//
// The pass walks a snapshot taken under the lock, so an ack landing
// mid-pass cannot shift later entries out of the walk; entries acked
// before their turn are skipped instead of resent.
func (q *Queue) Flush(ctx context.Context, destination string) {
	q.mu.Lock()
	dq, ok := q.queues[destination]
	q.mu.Unlock()
	if !ok {
		return
	}

	dq.flushMu.Lock()
	defer dq.flushMu.Unlock()

	q.mu.Lock()
	entries := make([]*models.DeliveryEntry, len(dq.entries))
	copy(entries, dq.entries)
	q.mu.Unlock()

	for _, entry := range entries {
		if !q.stillQueued(destination, entry.Message.ID) {
			continue
		}

		if err := q.sender.Send(ctx, destination, entry.Message); err != nil {
			q.mu.Lock()
			entry.Attempts++
			attempts := entry.Attempts
			q.mu.Unlock()

			observability.IncDeliveryAttempt("error")
			q.log.Warn().
				Str("destination", destination).
				Str("message_id", entry.Message.ID).
				Int("attempts", attempts).
				Err(err).
				Msg("delivery attempt failed")
			q.presence.MarkOffline(destination)
			return
		}
		observability.IncDeliveryAttempt("ok")
	}
}

// Pending returns a copy of the destination's queued entries, oldest first.
func (q *Queue) Pending(destination string) []models.DeliveryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	dq, ok := q.queues[destination]
	if !ok {
		return nil
	}
	entries := make([]models.DeliveryEntry, len(dq.entries))
	for i, e := range dq.entries {
		entries[i] = *e
	}
	return entries
}

// Depth reports the total number of queued entries across destinations.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, dq := range q.queues {
		total += len(dq.entries)
	}
	return total
}

func (q *Queue) stillQueued(destination, messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	dq, ok := q.queues[destination]
	if !ok {
		return false
	}
	for _, entry := range dq.entries {
		if entry.Message.ID == messageID {
			return true
		}
	}
	return false
}

func (q *Queue) queueFor(destination string) *destQueue {
	dq, ok := q.queues[destination]
	if !ok {
		dq = &destQueue{}
		q.queues[destination] = dq
	}
	return dq
}

func (q *Queue) destinations() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	dests := make([]string, 0, len(q.queues))
	for destination, dq := range q.queues {
		if len(dq.entries) > 0 {
			dests = append(dests, destination)
		}
	}
	return dests
}
