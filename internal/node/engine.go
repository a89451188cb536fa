// Package node implements the message engine: the send/ack path, inbound
// peer frame dispatch, and chat bookkeeping on top of the repositories.
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"chat-node/internal/delivery"
	"chat-node/internal/digest"
	"chat-node/internal/models"
	"chat-node/internal/observability"
	"chat-node/internal/presence"
	"chat-node/internal/rabbitmq"
	"chat-node/internal/repositories"
)

var (
	ErrEmptyContent      = errors.New("message content is empty")
	ErrBadChatID         = errors.New("chat id must be <initiator>:<counterparty>")
	ErrSelfChat          = errors.New("cannot chat with self")
	ErrEmptyCounterparty = errors.New("counterparty is empty")
)

// Broadcaster fans server frames out to connected UI clients.
type Broadcaster interface {
	Broadcast(frame models.ServerFrame)
}

// Engine ties the store, delivery queue and presence tracker together. All
// spec'd operations enter through its methods; nothing mutates chat state
// behind its back.
type Engine struct {
	self        string
	chats       repositories.ChatRepository
	messages    repositories.MessageRepository
	queue       *delivery.Queue
	tracker     *presence.Tracker
	broadcaster Broadcaster
	events      rabbitmq.Publisher
	log         zerolog.Logger

	now   func() int64
	newID func() string
}

// NewEngine constructs an Engine for the given local identity.
func NewEngine(
	self string,
	chats repositories.ChatRepository,
	messages repositories.MessageRepository,
	queue *delivery.Queue,
	tracker *presence.Tracker,
	broadcaster Broadcaster,
	events rabbitmq.Publisher,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		self:        self,
		chats:       chats,
		messages:    messages,
		queue:       queue,
		tracker:     tracker,
		broadcaster: broadcaster,
		events:      events,
		log:         log,
		now:         func() int64 { return time.Now().Unix() },
		newID:       uuid.NewString,
	}
}

// Self returns the local node identity.
func (e *Engine) Self() string { return e.self }

// CreateChat creates (or returns) the chat with a counterparty and notifies
// the remote side so it can materialize the mirror chat.
func (e *Engine) CreateChat(ctx context.Context, counterparty string) (models.Chat, error) {
	counterparty = strings.TrimSpace(counterparty)
	if counterparty == "" {
		return models.Chat{}, ErrEmptyCounterparty
	}
	if counterparty == e.self {
		return models.Chat{}, ErrSelfChat
	}

	existing, err := e.chats.GetChatByCounterparty(ctx, counterparty)
	if err == nil {
		return e.withMessages(ctx, existing)
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, err
	}

	chat := models.Chat{
		ID:           e.self + ":" + counterparty,
		Counterparty: counterparty,
		LastActivity: e.now(),
		Notify:       true,
	}
	if err := e.chats.UpsertChat(ctx, chat); err != nil {
		return models.Chat{}, err
	}

	// Best-effort notification; the mirror chat also materializes lazily on
	// the first delivered message.
	if ch, ok := e.tracker.ChannelFor(counterparty); ok {
		_ = ch.SendFrame(models.PeerFrame{ChatCreated: &models.ChatCreatedFrame{
			Initiator: e.self,
			ChatID:    chat.ID,
		}})
	}

	e.publish(ctx, "sync.chat_created", "chat_created", map[string]any{"chat_id": chat.ID, "counterparty": counterparty})
	return chat, nil
}

// GetChats returns every chat with its messages, most recent activity first.
func (e *Engine) GetChats(ctx context.Context) ([]models.Chat, error) {
	chats, err := e.chats.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	for i, chat := range chats {
		chats[i], err = e.withMessages(ctx, chat)
		if err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// GetChat returns one chat with its messages.
func (e *Engine) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	chat, err := e.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	return e.withMessages(ctx, chat)
}

// DeleteChat removes a chat locally; the counterparty keeps its side.
func (e *Engine) DeleteChat(ctx context.Context, chatID string) error {
	return e.chats.DeleteChat(ctx, chatID)
}

// SendMessage accepts a message for delivery. The message is appended with
// status Sending, advanced to Sent once the store accepted it, and queued
// for the counterparty. Transient unreachability never fails a send; only a
// local acceptance error does.
func (e *Engine) SendMessage(ctx context.Context, chatID, content string, replyTo *string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}

	chat, err := e.chatForSend(ctx, chatID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        e.newID(),
		ChatID:    chat.ID,
		Sender:    e.self,
		Content:   content,
		Timestamp: e.now(),
		Status:    models.StatusSending,
		ReplyTo:   replyTo,
	}
	if err := e.messages.Append(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("store message: %w", err)
	}

	// Local acceptance done: hop 1 complete.
	if _, err := e.messages.AdvanceStatus(ctx, msg.ID, models.StatusSent); err != nil {
		return models.Message{}, err
	}
	msg.Status = models.StatusSent

	if err := e.chats.TouchActivity(ctx, chat.ID, msg.Timestamp); err != nil {
		e.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("touch activity failed")
	}

	e.queue.Enqueue(chat.Counterparty, msg)
	e.broadcaster.Broadcast(models.ServerFrame{NewMessage: &msg})
	e.publish(ctx, "delivery.message_sent", "message_sent", map[string]any{
		"chat_id":    chat.ID,
		"message_id": msg.ID,
		"to":         chat.Counterparty,
	})
	return msg, nil
}

// ForwardMessage copies an existing message into another chat and sends it
// through the normal path under a fresh id.
func (e *Engine) ForwardMessage(ctx context.Context, messageID, toChatID string) (models.Message, error) {
	original, err := e.messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	return e.SendMessage(ctx, toChatID, "Forwarded: "+original.Content, nil)
}

// EditMessage mutates a message's content in place.
func (e *Engine) EditMessage(ctx context.Context, messageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if err := e.messages.UpdateContent(ctx, messageID, content); err != nil {
		return err
	}
	e.broadcastChatOf(ctx, messageID)
	return nil
}

// DeleteMessage removes a message from the local log only.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	msg, err := e.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if err := e.messages.Delete(ctx, messageID); err != nil {
		return err
	}
	e.broadcastChat(ctx, msg.ChatID)
	return nil
}

// AddReaction records the local user's emoji reaction; duplicate reactions
// by the same user are no-ops.
func (e *Engine) AddReaction(ctx context.Context, messageID, emoji string) error {
	added, err := e.messages.AddReaction(ctx, messageID, models.Reaction{
		Emoji:     emoji,
		User:      e.self,
		Timestamp: e.now(),
	})
	if err != nil {
		return err
	}
	if added {
		e.broadcastChatOf(ctx, messageID)
	}
	return nil
}

// RemoveReaction drops the local user's reaction.
func (e *Engine) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	removed, err := e.messages.RemoveReaction(ctx, messageID, emoji, e.self)
	if err != nil {
		return err
	}
	if removed {
		e.broadcastChatOf(ctx, messageID)
	}
	return nil
}

// MarkRead clears a chat's unread counter.
func (e *Engine) MarkRead(ctx context.Context, chatID string) error {
	return e.chats.MarkRead(ctx, chatID)
}

// SetBlocked toggles inbound blocking for a chat.
func (e *Engine) SetBlocked(ctx context.Context, chatID string, blocked bool) error {
	return e.chats.SetBlocked(ctx, chatID, blocked)
}

// SetNotify toggles notifications for a chat.
func (e *Engine) SetNotify(ctx context.Context, chatID string, notify bool) error {
	return e.chats.SetNotify(ctx, chatID, notify)
}

// Digests computes the deterministic digest of every chat.
func (e *Engine) Digests(ctx context.Context) ([]models.ChatDigest, error) {
	chats, err := e.GetChats(ctx)
	if err != nil {
		return nil, err
	}
	digests := make([]models.ChatDigest, len(chats))
	for i, chat := range chats {
		digests[i] = digest.Compute(chat)
	}
	return digests, nil
}

// HandlePeerFrame dispatches one inbound node-to-node frame.
func (e *Engine) HandlePeerFrame(from string, frame models.PeerFrame) {
	ctx := context.Background()
	switch {
	case frame.ReceiveMessage != nil:
		e.receiveMessage(ctx, from, *frame.ReceiveMessage)
	case frame.MessageAck != nil:
		e.handleAck(ctx, from, frame.MessageAck.MessageID)
	case frame.ChatCreated != nil:
		e.receiveChatCreation(ctx, from, *frame.ChatCreated)
	case frame.Heartbeat:
		e.tracker.Touch(from)
	default:
		e.log.Warn().Str("from", from).Msg("empty peer frame dropped")
	}
}

// receiveMessage appends an inbound message exactly once and acknowledges
// it. Re-delivered duplicates are acked again without a second append, so
// the sender's retries converge.
func (e *Engine) receiveMessage(ctx context.Context, from string, msg models.Message) {
	chat, isNew, err := e.chatForPeer(ctx, from, msg.Timestamp)
	if err != nil {
		e.log.Error().Err(err).Str("from", from).Msg("receive: chat lookup failed")
		return
	}

	if chat.IsBlocked {
		// Ack so the sender stops retrying, but keep nothing.
		e.sendAck(from, msg.ID)
		return
	}

	exists, err := e.messages.Exists(ctx, chat.ID, msg.ID)
	if err != nil {
		e.log.Error().Err(err).Str("message_id", msg.ID).Msg("receive: dedup check failed")
		return
	}
	if !exists {
		stored := msg
		stored.ChatID = chat.ID
		stored.Status = models.StatusDelivered
		if err := e.messages.Append(ctx, stored); err != nil {
			e.log.Error().Err(err).Str("message_id", msg.ID).Msg("receive: append failed")
			return
		}
		if err := e.chats.IncrementUnread(ctx, chat.ID); err != nil {
			e.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("receive: unread bump failed")
		}
		if err := e.chats.TouchActivity(ctx, chat.ID, stored.Timestamp); err != nil {
			e.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("receive: touch activity failed")
		}

		if isNew {
			e.broadcastChat(ctx, chat.ID)
		}
		e.broadcaster.Broadcast(models.ServerFrame{NewMessage: &stored})
		e.publish(ctx, "delivery.message_received", "message_received", map[string]any{
			"chat_id":    chat.ID,
			"message_id": stored.ID,
			"from":       from,
		})
	}

	e.sendAck(from, msg.ID)
}

// handleAck advances the message to Delivered and drops the queue entry.
// Duplicate and late acks are no-ops.
func (e *Engine) handleAck(ctx context.Context, from, messageID string) {
	changed, err := e.messages.AdvanceStatus(ctx, messageID, models.StatusDelivered)
	if err != nil {
		e.log.Error().Err(err).Str("message_id", messageID).Msg("ack: status update failed")
		return
	}
	e.queue.Ack(from, messageID)
	observability.IncAck()

	if changed {
		e.broadcaster.Broadcast(models.ServerFrame{MessageAck: &models.AckFrame{MessageID: messageID}})
		e.publish(ctx, "delivery.message_delivered", "message_delivered", map[string]any{
			"message_id": messageID,
			"from":       from,
		})
	}
}

func (e *Engine) receiveChatCreation(ctx context.Context, from string, frame models.ChatCreatedFrame) {
	chat := models.Chat{
		ID:           frame.ChatID,
		Counterparty: from,
		LastActivity: e.now(),
		Notify:       true,
	}
	if err := e.chats.UpsertChat(ctx, chat); err != nil {
		e.log.Error().Err(err).Str("chat_id", frame.ChatID).Msg("chat creation failed")
		return
	}
	e.broadcastChat(ctx, frame.ChatID)
}

// HandleClientFrame dispatches one frame from a UI client. reply pushes a
// frame back on that client's own connection.
func (e *Engine) HandleClientFrame(frame models.ClientFrame, reply func(models.ServerFrame)) {
	ctx := context.Background()
	switch {
	case frame.SendMessage != nil:
		req := frame.SendMessage
		if _, err := e.SendMessage(ctx, req.ChatID, req.Content, req.ReplyTo); err != nil {
			reply(models.ServerFrame{Error: &models.ErrorFrame{Message: err.Error()}})
		}
	case frame.Ack != nil:
		if _, err := e.messages.AdvanceStatus(ctx, frame.Ack.MessageID, models.StatusDelivered); err != nil {
			e.log.Warn().Err(err).Str("message_id", frame.Ack.MessageID).Msg("client ack failed")
		}
	case frame.MarkRead != nil:
		if err := e.chats.MarkRead(ctx, frame.MarkRead.ChatID); err != nil {
			e.log.Warn().Err(err).Str("chat_id", frame.MarkRead.ChatID).Msg("mark read failed")
		}
	case frame.UpdateStatus != nil:
		e.broadcaster.Broadcast(models.ServerFrame{StatusUpdate: &models.StatusUpdateFrame{
			Node:   e.self,
			Status: frame.UpdateStatus.Status,
		}})
	case frame.Heartbeat:
		reply(models.ServerFrame{Heartbeat: true})
	default:
		reply(models.ServerFrame{Error: &models.ErrorFrame{Message: "empty frame"}})
	}
}

// chatForSend loads the chat or materializes it from a well-formed chat id.
func (e *Engine) chatForSend(ctx context.Context, chatID string) (models.Chat, error) {
	chat, err := e.chats.GetChat(ctx, chatID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, err
	}

	parts := strings.SplitN(chatID, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return models.Chat{}, ErrBadChatID
	}
	counterparty := parts[1]
	if counterparty == e.self {
		counterparty = parts[0]
	}
	if counterparty == e.self {
		return models.Chat{}, ErrSelfChat
	}

	chat = models.Chat{
		ID:           chatID,
		Counterparty: counterparty,
		LastActivity: e.now(),
		Notify:       true,
	}
	if err := e.chats.UpsertChat(ctx, chat); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// chatForPeer finds the single chat held with the sender, regardless of
// which side initiated it, creating the mirror chat when absent.
func (e *Engine) chatForPeer(ctx context.Context, from string, ts int64) (models.Chat, bool, error) {
	chat, err := e.chats.GetChatByCounterparty(ctx, from)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, false, err
	}

	chat = models.Chat{
		ID:           from + ":" + e.self,
		Counterparty: from,
		LastActivity: ts,
		Notify:       true,
	}
	if err := e.chats.UpsertChat(ctx, chat); err != nil {
		return models.Chat{}, false, err
	}
	return chat, true, nil
}

func (e *Engine) sendAck(to, messageID string) {
	ch, ok := e.tracker.ChannelFor(to)
	if !ok {
		return
	}
	if err := ch.SendFrame(models.PeerFrame{MessageAck: &models.AckFrame{MessageID: messageID}}); err != nil {
		e.log.Debug().Err(err).Str("to", to).Msg("ack push failed")
	}
}

func (e *Engine) withMessages(ctx context.Context, chat models.Chat) (models.Chat, error) {
	msgs, err := e.messages.ListByChat(ctx, chat.ID)
	if err != nil {
		return models.Chat{}, err
	}
	chat.Messages = msgs
	return chat, nil
}

func (e *Engine) broadcastChatOf(ctx context.Context, messageID string) {
	msg, err := e.messages.Get(ctx, messageID)
	if err != nil {
		return
	}
	e.broadcastChat(ctx, msg.ChatID)
}

func (e *Engine) broadcastChat(ctx context.Context, chatID string) {
	chat, err := e.GetChat(ctx, chatID)
	if err != nil {
		e.log.Warn().Err(err).Str("chat_id", chatID).Msg("chat broadcast skipped")
		return
	}
	e.broadcaster.Broadcast(models.ServerFrame{ChatUpdate: &chat})
}

func (e *Engine) publish(ctx context.Context, routingKey, name string, payload map[string]any) {
	if e.events == nil {
		return
	}
	traceID := ""
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		traceID = span.TraceID().String()
	}
	_ = e.events.Publish(ctx, routingKey, observability.EventEnvelope{
		EventType: strings.SplitN(routingKey, ".", 2)[0],
		EventName: name,
		Node:      e.self,
		Payload:   payload,
	}, observability.BuildHeaders("", traceID))
}
