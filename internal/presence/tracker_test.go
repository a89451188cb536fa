package presence

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-node/internal/models"
)

type fakeChannel struct {
	frames []models.PeerFrame
	closed bool
}

func (c *fakeChannel) SendFrame(frame models.PeerFrame) error {
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestSetOnlineFiresCallbackOnTransitionOnly(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	var fired []string
	tr.OnOnline(func(node string) { fired = append(fired, node) })

	tr.SetOnline("bob.node", &fakeChannel{})
	tr.SetOnline("bob.node", &fakeChannel{})

	assert.Equal(t, []string{"bob.node"}, fired)
	assert.True(t, tr.IsOnline("bob.node"))
}

func TestReplacingChannelClosesOldOne(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	old := &fakeChannel{}
	tr.SetOnline("bob.node", old)
	replacement := &fakeChannel{}
	tr.SetOnline("bob.node", replacement)

	assert.True(t, old.closed)
	assert.False(t, replacement.closed)

	ch, ok := tr.ChannelFor("bob.node")
	require.True(t, ok)
	assert.Same(t, replacement, ch.(*fakeChannel))
}

func TestSetOfflineDropsChannel(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	ch := &fakeChannel{}
	tr.SetOnline("bob.node", ch)
	tr.SetOffline("bob.node")

	assert.True(t, ch.closed)
	assert.False(t, tr.IsOnline("bob.node"))
	_, ok := tr.ChannelFor("bob.node")
	assert.False(t, ok)
}

func TestOfflineThenOnlineFiresAgain(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	count := 0
	tr.OnOnline(func(string) { count++ })

	tr.SetOnline("bob.node", &fakeChannel{})
	tr.SetOffline("bob.node")
	tr.SetOnline("bob.node", &fakeChannel{})

	assert.Equal(t, 2, count)
}

func TestOnlineListsConnectedPeers(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	assert.Empty(t, tr.Online())

	tr.SetOnline("bob.node", &fakeChannel{})
	tr.SetOnline("carol.node", &fakeChannel{})
	tr.MarkOffline("carol.node")

	assert.Equal(t, []string{"bob.node"}, tr.Online())
}
