// Package digest computes deterministic per-chat fingerprints. The same
// algorithm runs on the owning node and on client replicas; a mismatch marks
// the chat as desynced. Digests are never used for identity or security.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"chat-node/internal/models"
)

// Compute hashes the chat's message set in a canonical order: messages by
// (timestamp, id), and for each message its id, sender, content and
// timestamp followed by every reaction's emoji, user and timestamp. Fields
// are length-prefixed so adjacent values cannot collide.
func Compute(chat models.Chat) models.ChatDigest {
	msgs := make([]models.Message, len(chat.Messages))
	copy(msgs, chat.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})

	h := sha256.New()
	writeInt(h.Write, int64(len(msgs)))
	for _, m := range msgs {
		writeStr(h.Write, m.ID)
		writeStr(h.Write, m.Sender)
		writeStr(h.Write, m.Content)
		writeInt(h.Write, m.Timestamp)
		writeInt(h.Write, int64(len(m.Reactions)))
		for _, r := range m.Reactions {
			writeStr(h.Write, r.Emoji)
			writeStr(h.Write, r.User)
			writeInt(h.Write, r.Timestamp)
		}
	}

	return models.ChatDigest{
		ChatID:       chat.ID,
		Hash:         hex.EncodeToString(h.Sum(nil)),
		MessageCount: len(msgs),
	}
}

func writeStr(w func([]byte) (int, error), s string) {
	writeInt(w, int64(len(s)))
	w([]byte(s))
}

func writeInt(w func([]byte) (int, error), v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	w(buf[:])
}
