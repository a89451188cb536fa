package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-node/internal/models"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failIDs  map[string]bool
	failAll  bool
	failures int
	onSend   func(id string)
}

func (s *fakeSender) Send(_ context.Context, _ string, msg models.Message) error {
	s.mu.Lock()
	if s.failAll || s.failIDs[msg.ID] {
		s.failures++
		s.mu.Unlock()
		return errors.New("peer unreachable")
	}
	s.sent = append(s.sent, msg.ID)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(msg.ID)
	}
	return nil
}

func (s *fakeSender) sentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool)}
}

func (p *fakePresence) IsOnline(node string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[node]
}

func (p *fakePresence) MarkOffline(node string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, node)
}

func (p *fakePresence) set(node string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[node] = online
}

type fakeDialer struct {
	mu     sync.Mutex
	nudges []string
}

func (d *fakeDialer) Nudge(node string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nudges = append(d.nudges, node)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nudges)
}

func msg(id string) models.Message {
	return models.Message{ID: id, ChatID: "alice.node:bob.node", Sender: "alice.node", Content: "hi", Status: models.StatusSent}
}

func TestFlushPreservesSendOrder(t *testing.T) {
	sender := &fakeSender{}
	presence := newFakePresence()
	q := NewQueue(sender, presence, nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))
	q.Enqueue("bob.node", msg("m2"))
	q.Enqueue("bob.node", msg("m3"))

	q.Flush(context.Background(), "bob.node")

	assert.Equal(t, []string{"m1", "m2", "m3"}, sender.sentIDs())
	// Sending alone never dequeues; only acks do.
	require.Len(t, q.Pending("bob.node"), 3)
}

func TestEnqueueFlushesImmediatelyWhenOnline(t *testing.T) {
	sender := &fakeSender{}
	presence := newFakePresence()
	presence.set("bob.node", true)
	q := NewQueue(sender, presence, nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))

	require.Eventually(t, func() bool {
		return len(sender.sentIDs()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueNudgesWhenOffline(t *testing.T) {
	sender := &fakeSender{}
	dialer := &fakeDialer{}
	q := NewQueue(sender, newFakePresence(), dialer, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))

	assert.Equal(t, 1, dialer.count())
	assert.Empty(t, sender.sentIDs())
}

func TestAckRemovesOnlyMatchingEntry(t *testing.T) {
	q := NewQueue(&fakeSender{}, newFakePresence(), nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))
	q.Enqueue("bob.node", msg("m2"))

	q.Ack("bob.node", "m1")

	pending := q.Pending("bob.node")
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].Message.ID)
}

func TestAckIsIdempotent(t *testing.T) {
	q := NewQueue(&fakeSender{}, newFakePresence(), nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))
	q.Ack("bob.node", "m1")
	q.Ack("bob.node", "m1")
	q.Ack("carol.node", "m1")

	assert.Empty(t, q.Pending("bob.node"))
	assert.Zero(t, q.Depth())
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	sender := &fakeSender{failIDs: map[string]bool{"m2": true}}
	presence := newFakePresence()
	presence.set("bob.node", true)
	q := NewQueue(sender, presence, nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))
	q.Enqueue("bob.node", msg("m2"))
	q.Enqueue("bob.node", msg("m3"))

	// Wait for the enqueue-triggered flushes to settle, then check state.
	require.Eventually(t, func() bool {
		return !presence.IsOnline("bob.node")
	}, time.Second, 5*time.Millisecond)

	sent := sender.sentIDs()
	assert.NotContains(t, sent, "m3")
	require.Len(t, q.Pending("bob.node"), 3)
}

func TestAckDuringFlushDoesNotSkipLaterEntries(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(sender, newFakePresence(), nil, time.Hour, zerolog.Nop())
	// The ack for the entry just sent lands while the pass is still
	// walking; the remaining entries must still go out, in order.
	sender.onSend = func(id string) {
		if id == "m1" {
			q.Ack("bob.node", "m1")
		}
	}

	q.Enqueue("bob.node", msg("m1"))
	q.Enqueue("bob.node", msg("m2"))
	q.Enqueue("bob.node", msg("m3"))

	q.Flush(context.Background(), "bob.node")

	assert.Equal(t, []string{"m1", "m2", "m3"}, sender.sentIDs())
	require.Len(t, q.Pending("bob.node"), 2)
}

func TestEntryAckedMidPassIsNotResent(t *testing.T) {
	sender := &fakeSender{}
	q := NewQueue(sender, newFakePresence(), nil, time.Hour, zerolog.Nop())
	sender.onSend = func(id string) {
		if id == "m1" {
			q.Ack("bob.node", "m2")
		}
	}

	q.Enqueue("bob.node", msg("m1"))
	q.Enqueue("bob.node", msg("m2"))
	q.Enqueue("bob.node", msg("m3"))

	q.Flush(context.Background(), "bob.node")

	assert.Equal(t, []string{"m1", "m3"}, sender.sentIDs())
}

func TestRetryAfterReconnectDeliversBacklogInOrder(t *testing.T) {
	sender := &fakeSender{failAll: true}
	presence := newFakePresence()
	q := NewQueue(sender, presence, nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("m1"))
	q.Enqueue("bob.node", msg("m2"))
	q.Flush(context.Background(), "bob.node")
	assert.Empty(t, sender.sentIDs())

	sender.mu.Lock()
	sender.failAll = false
	sender.mu.Unlock()
	presence.set("bob.node", true)

	q.OnPresenceOnline("bob.node")

	require.Eventually(t, func() bool {
		return len(sender.sentIDs()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, sender.sentIDs())

	q.Ack("bob.node", "m1")
	q.Ack("bob.node", "m2")
	assert.Zero(t, q.Depth())
}

func TestRunSkipsAndNudgesOfflineDestinations(t *testing.T) {
	sender := &fakeSender{}
	dialer := &fakeDialer{}
	presence := newFakePresence()
	q := NewQueue(sender, presence, nil, 10*time.Millisecond, zerolog.Nop())
	q.SetDialer(dialer)

	q.Enqueue("bob.node", msg("m1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.Eventually(t, func() bool {
		return dialer.count() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.sentIDs())
}

func TestIndependentDestinations(t *testing.T) {
	sender := &fakeSender{failIDs: map[string]bool{"to-bob": true}}
	presence := newFakePresence()
	presence.set("bob.node", true)
	presence.set("carol.node", true)
	q := NewQueue(sender, presence, nil, time.Hour, zerolog.Nop())

	q.Enqueue("bob.node", msg("to-bob"))
	q.Enqueue("carol.node", msg("to-carol"))

	require.Eventually(t, func() bool {
		sent := sender.sentIDs()
		return len(sent) == 1 && sent[0] == "to-carol"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, presence.IsOnline("carol.node"))
}
