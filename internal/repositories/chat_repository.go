package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-node/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence. Messages are loaded through
// MessageRepository; chat rows carry only the scalar fields.
type ChatRepository interface {
	UpsertChat(ctx context.Context, chat models.Chat) error
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	GetChatByCounterparty(ctx context.Context, counterparty string) (models.Chat, error)
	ListChats(ctx context.Context) ([]models.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	MarkRead(ctx context.Context, chatID string) error
	IncrementUnread(ctx context.Context, chatID string) error
	TouchActivity(ctx context.Context, chatID string, ts int64) error
	SetBlocked(ctx context.Context, chatID string, blocked bool) error
	SetNotify(ctx context.Context, chatID string, notify bool) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// UpsertChat inserts the chat if absent; an existing row is left untouched
// so that remote chat-creation notifications stay idempotent.
func (r *ChatRepo) UpsertChat(ctx context.Context, chat models.Chat) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chats (id, counterparty, last_activity, unread_count, is_blocked, notify)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		chat.ID, chat.Counterparty, chat.LastActivity, chat.UnreadCount, chat.IsBlocked, chat.Notify)
	return err
}

// GetChat fetches a chat row by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, counterparty, last_activity, unread_count, is_blocked, notify
        FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChatByCounterparty fetches the single chat held with a peer identity.
func (r *ChatRepo) GetChatByCounterparty(ctx context.Context, counterparty string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, counterparty, last_activity, unread_count, is_blocked, notify
        FROM chats WHERE counterparty=$1`, counterparty)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChats returns all chat rows ordered by most recent activity.
func (r *ChatRepo) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats, `SELECT id, counterparty, last_activity, unread_count, is_blocked, notify
        FROM chats ORDER BY last_activity DESC`)
	return chats, err
}

// DeleteChat removes a chat and, via cascade, its messages.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// MarkRead clears the unread counter.
func (r *ChatRepo) MarkRead(ctx context.Context, chatID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET unread_count=0 WHERE id=$1`, chatID)
	return err
}

// IncrementUnread bumps the unread counter by one.
func (r *ChatRepo) IncrementUnread(ctx context.Context, chatID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET unread_count=unread_count+1 WHERE id=$1`, chatID)
	return err
}

// TouchActivity advances last_activity; it never moves backwards.
func (r *ChatRepo) TouchActivity(ctx context.Context, chatID string, ts int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET last_activity=GREATEST(last_activity, $2) WHERE id=$1`, chatID, ts)
	return err
}

// SetBlocked toggles the blocked flag.
func (r *ChatRepo) SetBlocked(ctx context.Context, chatID string, blocked bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET is_blocked=$2 WHERE id=$1`, chatID, blocked)
	return err
}

// SetNotify toggles notifications for a chat.
func (r *ChatRepo) SetNotify(ctx context.Context, chatID string, notify bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET notify=$2 WHERE id=$1`, chatID, notify)
	return err
}
