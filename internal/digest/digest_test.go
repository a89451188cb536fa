package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chat-node/internal/models"
)

func sampleChat() models.Chat {
	return models.Chat{
		ID: "alice.node:bob.node",
		Messages: []models.Message{
			{ID: "m1", Sender: "alice.node", Content: "hi", Timestamp: 100},
			{ID: "m2", Sender: "bob.node", Content: "hello", Timestamp: 200},
		},
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	a := Compute(sampleChat())
	b := Compute(sampleChat())

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, "alice.node:bob.node", a.ChatID)
	assert.Equal(t, 2, a.MessageCount)
}

func TestComputeIgnoresInputOrder(t *testing.T) {
	shuffled := sampleChat()
	shuffled.Messages[0], shuffled.Messages[1] = shuffled.Messages[1], shuffled.Messages[0]

	assert.Equal(t, Compute(sampleChat()).Hash, Compute(shuffled).Hash)
}

func TestComputeChangesWhenMessageAdded(t *testing.T) {
	grown := sampleChat()
	grown.Messages = append(grown.Messages, models.Message{ID: "m3", Sender: "alice.node", Content: "again", Timestamp: 300})

	assert.NotEqual(t, Compute(sampleChat()).Hash, Compute(grown).Hash)
}

func TestComputeChangesWhenContentEdited(t *testing.T) {
	edited := sampleChat()
	edited.Messages[0].Content = "hi there"

	assert.NotEqual(t, Compute(sampleChat()).Hash, Compute(edited).Hash)
}

func TestComputeChangesWhenReactionAdded(t *testing.T) {
	reacted := sampleChat()
	reacted.Messages[1].Reactions = models.Reactions{{Emoji: "🔥", User: "alice.node", Timestamp: 250}}

	assert.NotEqual(t, Compute(sampleChat()).Hash, Compute(reacted).Hash)
}

func TestAdjacentFieldsCannotCollide(t *testing.T) {
	a := models.Chat{ID: "c", Messages: []models.Message{{ID: "ab", Sender: "c", Content: "x", Timestamp: 1}}}
	b := models.Chat{ID: "c", Messages: []models.Message{{ID: "a", Sender: "bc", Content: "x", Timestamp: 1}}}

	assert.NotEqual(t, Compute(a).Hash, Compute(b).Hash)
}

func TestEmptyChatHasStableDigest(t *testing.T) {
	empty := models.Chat{ID: "alice.node:bob.node"}
	assert.Equal(t, Compute(empty).Hash, Compute(empty).Hash)
	assert.Zero(t, Compute(empty).MessageCount)
}
