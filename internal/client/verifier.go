package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chat-node/internal/digest"
	"chat-node/internal/observability"
)

// Verifier periodically compares the store's chat digests against the
// node's. Any divergence, of any kind, triggers one full resync; there is
// no partial repair path.
type Verifier struct {
	store    *Store
	api      API
	interval time.Duration
	log      zerolog.Logger
}

// NewVerifier builds a Verifier with the given check interval.
func NewVerifier(store *Store, api API, interval time.Duration, log zerolog.Logger) *Verifier {
	return &Verifier{store: store, api: api, interval: interval, log: log}
}

// Run checks once immediately, then on every tick until the context ends.
func (v *Verifier) Run(ctx context.Context) {
	v.Check(ctx)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Check(ctx)
		}
	}
}

// Check performs one verification round and reports whether a resync ran.
func (v *Verifier) Check(ctx context.Context) bool {
	remote, err := v.api.SyncHashes(ctx)
	if err != nil {
		// Failing to fetch digests counts as divergence: resync rather
		// than trust a possibly stale view.
		v.log.Warn().Err(err).Msg("digest fetch failed, forcing resync")
		return v.resync(ctx, "digest_fetch_failed")
	}

	remoteByID := make(map[string]string, len(remote))
	for _, d := range remote {
		remoteByID[d.ChatID] = d.Hash
	}

	local := v.store.Chats()
	localByID := make(map[string]string, len(local))
	for _, chat := range local {
		// Optimistic messages are known-unsynced; hashing them would make
		// every in-flight send look like divergence.
		kept := chat.Messages[:0:0]
		for _, msg := range chat.Messages {
			if !IsTempID(msg.ID) {
				kept = append(kept, msg)
			}
		}
		chat.Messages = kept
		localByID[chat.ID] = digest.Compute(chat).Hash
	}

	for id, hash := range remoteByID {
		localHash, ok := localByID[id]
		if !ok {
			return v.resync(ctx, "chat_missing_locally")
		}
		if localHash != hash {
			return v.resync(ctx, "digest_mismatch")
		}
	}
	for id := range localByID {
		if _, ok := remoteByID[id]; !ok {
			return v.resync(ctx, "chat_unknown_to_node")
		}
	}
	return false
}

func (v *Verifier) resync(ctx context.Context, reason string) bool {
	v.log.Info().Str("reason", reason).Msg("state diverged, resyncing")
	observability.IncResync()
	if err := v.store.Resync(ctx); err != nil {
		v.log.Error().Err(err).Msg("resync failed")
		return false
	}
	return true
}
