package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-node/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the durable per-chat ordered log. Appends are
// immutable except for in-place status, content and reaction mutation.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message) error
	Get(ctx context.Context, messageID string) (models.Message, error)
	Exists(ctx context.Context, chatID, messageID string) (bool, error)
	ListByChat(ctx context.Context, chatID string) ([]models.Message, error)
	AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, error)
	UpdateContent(ctx context.Context, messageID, content string) error
	Delete(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, emoji, user string) (bool, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message in its chat's log.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (chat_id, id, sender, content, ts, status, reply_to, reactions)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ChatID, msg.ID, msg.Sender, msg.Content, msg.Timestamp, msg.Status, msg.ReplyTo, msg.Reactions)
	return err
}

// Get retrieves a single message by id.
func (r *MessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT chat_id, id, sender, content, ts, status, reply_to, reactions
        FROM messages WHERE id=$1 LIMIT 1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Exists reports whether a message id is already present in a chat. Used to
// deduplicate retried deliveries.
func (r *MessageRepo) Exists(ctx context.Context, chatID, messageID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE chat_id=$1 AND id=$2)`, chatID, messageID)
	return exists, err
}

// ListByChat returns the chat's messages ordered ascending by timestamp.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT chat_id, id, sender, content, ts, status, reply_to, reactions
        FROM messages WHERE chat_id=$1 ORDER BY ts ASC, id ASC`, chatID)
	return msgs, err
}

// AdvanceStatus moves a message's status forward. The update only applies
// when the stored status precedes the target, so stale or duplicate
// transitions are no-ops. Returns whether a row changed.
func (r *MessageRepo) AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, error) {
	prev := statusesBefore(to)
	if len(prev) == 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$2 WHERE id=$1 AND status = ANY($3)`,
		messageID, to, pq.Array(prev))
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// statusesBefore lists the statuses a message may hold and still legally
// advance to the target. Failed is terminal; nothing advances out of it.
func statusesBefore(to models.MessageStatus) []string {
	switch to {
	case models.StatusSent:
		return []string{string(models.StatusSending)}
	case models.StatusDelivered:
		return []string{string(models.StatusSending), string(models.StatusSent)}
	case models.StatusFailed:
		return []string{string(models.StatusSending), string(models.StatusSent)}
	}
	return nil
}

// UpdateContent edits a message in place.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID, content string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2 WHERE id=$1`, messageID, content)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Delete removes a message locally.
func (r *MessageRepo) Delete(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// AddReaction appends a reaction unless the user already reacted with the
// same emoji. Returns whether the reaction was added.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var reactions models.Reactions
	err = tx.GetContext(ctx, &reactions, `SELECT reactions FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrMessageNotFound
	}
	if err != nil {
		return false, err
	}

	for _, existing := range reactions {
		if existing.User == reaction.User && existing.Emoji == reaction.Emoji {
			return false, nil
		}
	}
	reactions = append(reactions, reaction)

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions=$2 WHERE id=$1`, messageID, reactions); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// RemoveReaction drops the user's reaction with the given emoji. Returns
// whether a reaction was removed.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, emoji, user string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var reactions models.Reactions
	err = tx.GetContext(ctx, &reactions, `SELECT reactions FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrMessageNotFound
	}
	if err != nil {
		return false, err
	}

	kept := reactions[:0]
	removed := false
	for _, existing := range reactions {
		if existing.User == user && existing.Emoji == emoji {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions=$2 WHERE id=$1`, messageID, kept); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
