package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOnlyAdvancesForward(t *testing.T) {
	assert.True(t, StatusSending.CanAdvance(StatusSent))
	assert.True(t, StatusSending.CanAdvance(StatusDelivered))
	assert.True(t, StatusSent.CanAdvance(StatusDelivered))

	assert.False(t, StatusSent.CanAdvance(StatusSending))
	assert.False(t, StatusDelivered.CanAdvance(StatusSent))
	assert.False(t, StatusDelivered.CanAdvance(StatusDelivered))
}

func TestFailedIsTerminal(t *testing.T) {
	assert.False(t, StatusFailed.CanAdvance(StatusSent))
	assert.False(t, StatusFailed.CanAdvance(StatusDelivered))
}

func TestReactionsScanRoundTrip(t *testing.T) {
	original := Reactions{{Emoji: "👍", User: "bob.node", Timestamp: 1700000000}}
	val, err := original.Value()
	assert.NoError(t, err)

	var decoded Reactions
	assert.NoError(t, decoded.Scan(val))
	assert.Equal(t, original, decoded)
}

func TestNilReactionsStoreAsEmptyArray(t *testing.T) {
	var r Reactions
	val, err := r.Value()
	assert.NoError(t, err)
	assert.Equal(t, "[]", val)
}
