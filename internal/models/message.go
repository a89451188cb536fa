package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MessageStatus tracks how far a message has progressed toward the
// counterparty. It only moves forward: Sending -> Sent -> Delivered.
// Failed is terminal and reserved for local acceptance errors.
type MessageStatus string

const (
	StatusSending   MessageStatus = "Sending"
	StatusSent      MessageStatus = "Sent"
	StatusDelivered MessageStatus = "Delivered"
	StatusFailed    MessageStatus = "Failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusFailed:
		return 3
	}
	return -1
}

// CanAdvance reports whether moving from s to next respects status
// monotonicity. Failed never advances.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if s == StatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// Reaction is a single emoji reaction on a message. One user may react with
// a given emoji at most once.
type Reaction struct {
	Emoji     string `json:"emoji"`
	User      string `json:"user"`
	Timestamp int64  `json:"timestamp"`
}

// Reactions is stored as a JSONB column.
type Reactions []Reaction

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Reactions) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return fmt.Errorf("reactions: cannot scan %T", src)
}

// Message is one entry in a chat's ordered log. The id is assigned by the
// owning node and never changes afterwards; content and reactions may be
// mutated in place.
type Message struct {
	ID        string        `db:"id" json:"id"`
	ChatID    string        `db:"chat_id" json:"chat_id"`
	Sender    string        `db:"sender" json:"sender"`
	Content   string        `db:"content" json:"content"`
	Timestamp int64         `db:"ts" json:"timestamp"`
	Status    MessageStatus `db:"status" json:"status"`
	ReplyTo   *string       `db:"reply_to" json:"reply_to,omitempty"`
	Reactions Reactions     `db:"reactions" json:"reactions"`
}

// DeliveryEntry is one queued outbound message awaiting acknowledgment.
// Owned exclusively by the delivery queue.
type DeliveryEntry struct {
	Destination string  `json:"destination"`
	Message     Message `json:"message"`
	EnqueuedAt  int64   `json:"enqueued_at"`
	Attempts    int     `json:"attempts"`
}
