package models

// Chat is a 1:1 conversation with a counterparty node. Messages are kept
// sorted ascending by timestamp; there is exactly one chat per
// (local node, counterparty) pair.
type Chat struct {
	ID           string    `db:"id" json:"id"`
	Counterparty string    `db:"counterparty" json:"counterparty"`
	Messages     []Message `json:"messages"`
	LastActivity int64     `db:"last_activity" json:"last_activity"`
	UnreadCount  int       `db:"unread_count" json:"unread_count"`
	IsBlocked    bool      `db:"is_blocked" json:"is_blocked"`
	Notify       bool      `db:"notify" json:"notify"`
}

// ChatDigest is a deterministic fingerprint of one chat's message set, used
// only to detect divergence between a local replica and the owning node.
type ChatDigest struct {
	ChatID       string `json:"chat_id"`
	Hash         string `json:"hash"`
	MessageCount int    `json:"message_count"`
}
