package client

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-node/internal/models"
)

func optimistic(tempID, content string, ts int64) models.Message {
	return models.Message{
		ID:        tempID,
		ChatID:    "alice.node:bob.node",
		Sender:    "alice.node",
		Content:   content,
		Timestamp: ts,
		Status:    models.StatusSending,
	}
}

func TestFingerprintBucketsCloseTimestamps(t *testing.T) {
	// Client clock at t=100, node assigns t=102: same 5-second bucket.
	assert.Equal(t,
		Fingerprint("alice.node", 100, "hello"),
		Fingerprint("alice.node", 102, "hello"))
	assert.NotEqual(t,
		Fingerprint("alice.node", 100, "hello"),
		Fingerprint("alice.node", 107, "hello"))
}

func TestFingerprintUsesContentHead(t *testing.T) {
	long := make([]rune, 0, 300)
	for i := 0; i < 300; i++ {
		long = append(long, 'a')
	}
	a := string(long)
	b := a[:len(a)-10] + "DIFFERENT!"

	// Divergence past the first 100 runes is invisible to the fingerprint.
	assert.Equal(t,
		Fingerprint("alice.node", 100, a),
		Fingerprint("alice.node", 100, b))
	assert.NotEqual(t,
		Fingerprint("alice.node", 100, "short a"),
		Fingerprint("alice.node", 100, "short b"))
}

func TestResolveFromAuthoritativeMatchesPendingSend(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())

	temp := optimistic("temp-100-0.42", "hello", 100)
	rec.TrackPending(temp)

	authoritative := temp
	authoritative.ID = "m1"
	authoritative.Timestamp = 102
	authoritative.Status = models.StatusSent

	tempID, ok := rec.ResolveFromAuthoritative(authoritative)
	require.True(t, ok)
	assert.Equal(t, "temp-100-0.42", tempID)

	realID, ok := rec.RealID("temp-100-0.42")
	require.True(t, ok)
	assert.Equal(t, "m1", realID)
	assert.Zero(t, rec.PendingCount())
}

func TestResolveFromAuthoritativeIgnoresForeignMessages(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	rec.TrackPending(optimistic("temp-1", "hello", 100))

	_, ok := rec.ResolveFromAuthoritative(models.Message{
		ID: "m9", Sender: "bob.node", Content: "hello", Timestamp: 100,
	})
	assert.False(t, ok)
	assert.Equal(t, 1, rec.PendingCount())
}

func TestResolveDirectClearsPending(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	rec.TrackPending(optimistic("temp-1", "hello", 100))

	rec.ResolveDirect("temp-1", "m1")

	assert.Zero(t, rec.PendingCount())
	realID, ok := rec.RealID("temp-1")
	require.True(t, ok)
	assert.Equal(t, "m1", realID)
}

func TestMergeDropsResolvedTemps(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	temp := optimistic("temp-1", "hello", 100)
	rec.TrackPending(temp)

	real := temp
	real.ID = "m1"
	real.Status = models.StatusSent
	_, ok := rec.ResolveFromAuthoritative(real)
	require.True(t, ok)

	merged := rec.Merge([]models.Message{temp}, []models.Message{real})

	require.Len(t, merged, 1)
	assert.Equal(t, "m1", merged[0].ID)
}

func TestMergeKeepsUnresolvedTempsInsideWindow(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	temp := optimistic("temp-1", "still in flight", 100)
	rec.TrackPending(temp)

	other := models.Message{ID: "m5", Sender: "bob.node", Content: "hi", Timestamp: 50}
	merged := rec.Merge([]models.Message{temp}, []models.Message{other})

	require.Len(t, merged, 2)
	assert.Equal(t, "m5", merged[0].ID)
	assert.Equal(t, "temp-1", merged[1].ID)
}

func TestMergeKeepsFailedSendsAfterWindowExpires(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	failed := optimistic("temp-1", "rejected", 100)
	rec.TrackPending(failed)
	failed.Status = models.StatusFailed

	// The sweep forgets the pending entry; the failed message must not
	// vanish with it.
	rec.Sweep(time.Now().Add(10 * time.Minute))

	other := models.Message{ID: "m5", Sender: "bob.node", Content: "hi", Timestamp: 50}
	merged := rec.Merge([]models.Message{failed, other}, []models.Message{other})

	require.Len(t, merged, 2)
	assert.Equal(t, "temp-1", merged[1].ID)
	assert.Equal(t, models.StatusFailed, merged[1].Status)
}

func TestMergeDropsRealMessagesUnknownToNode(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())

	orphan := models.Message{ID: "m-gone", Sender: "alice.node", Content: "deleted elsewhere", Timestamp: 100}
	kept := models.Message{ID: "m1", Sender: "bob.node", Content: "hi", Timestamp: 200}

	merged := rec.Merge([]models.Message{orphan, kept}, []models.Message{kept})

	require.Len(t, merged, 1)
	assert.Equal(t, "m1", merged[0].ID)
}

func TestMergeSortsByTimestampThenID(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())

	authoritative := []models.Message{
		{ID: "m2", Timestamp: 200},
		{ID: "m1", Timestamp: 100},
		{ID: "m3", Timestamp: 200},
	}
	merged := rec.Merge(nil, authoritative)

	require.Len(t, merged, 3)
	assert.Equal(t, "m1", merged[0].ID)
	assert.Equal(t, "m2", merged[1].ID)
	assert.Equal(t, "m3", merged[2].ID)
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	rec.TrackPending(optimistic("temp-1", "hello", 100))
	rec.ResolveDirect("temp-2", "m2")

	rec.Sweep(time.Now().Add(10 * time.Minute))

	assert.Zero(t, rec.PendingCount())
	_, ok := rec.RealID("temp-2")
	assert.False(t, ok)
}

func TestIsTempID(t *testing.T) {
	assert.True(t, IsTempID("temp-100-abc"))
	assert.False(t, IsTempID("m1"))
	assert.False(t, IsTempID(""))
}
