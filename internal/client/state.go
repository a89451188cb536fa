package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-node/internal/models"
)

// Store holds the client's view of every chat. All operations serialize on
// one mutex; the UI reads snapshots, never live references.
type Store struct {
	self  string
	api   API
	rec   *Reconciler
	cache *Cache
	log   zerolog.Logger

	mu       sync.Mutex
	chats    map[string]models.Chat
	statuses map[string]string

	now       func() int64
	newTempID func() string
}

// NewStore builds a Store for the given local identity. cache may be nil.
func NewStore(self string, api API, rec *Reconciler, cache *Cache, log zerolog.Logger) *Store {
	return &Store{
		self:     self,
		api:      api,
		rec:      rec,
		cache:    cache,
		log:      log,
		chats:    make(map[string]models.Chat),
		statuses: make(map[string]string),
		now:      func() int64 { return time.Now().Unix() },
		newTempID: func() string {
			return fmt.Sprintf("%s%d-%s", tempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
		},
	}
}

// Send appends an optimistic message immediately and submits it to the
// node. The optimistic copy is replaced by the node's version on success. A
// node rejection marks it Failed; an unreachable node leaves it Sending for
// reconciliation to settle later.
func (s *Store) Send(ctx context.Context, chatID, content string, replyTo *string) (models.Message, error) {
	optimistic := models.Message{
		ID:        s.newTempID(),
		ChatID:    chatID,
		Sender:    s.self,
		Content:   content,
		Timestamp: s.now(),
		Status:    models.StatusSending,
		ReplyTo:   replyTo,
	}

	s.mu.Lock()
	s.appendLocked(optimistic)
	s.mu.Unlock()
	s.rec.TrackPending(optimistic)

	real, err := s.api.SendMessage(ctx, chatID, content, replyTo)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Rejected() {
			s.mu.Lock()
			s.setStatusLocked(chatID, optimistic.ID, models.StatusFailed)
			s.mu.Unlock()
			return optimistic, err
		}
		// Unreachable node: keep Sending, the pending window owns cleanup.
		s.log.Warn().Err(err).Str("temp_id", optimistic.ID).Msg("send submission failed")
		return optimistic, err
	}

	s.rec.ResolveDirect(optimistic.ID, real.ID)
	s.mu.Lock()
	s.replaceLocked(chatID, optimistic.ID, real)
	s.mu.Unlock()
	return real, nil
}

// Apply dispatches one pushed server frame into the store.
func (s *Store) Apply(frame models.ServerFrame) {
	switch {
	case frame.NewMessage != nil:
		s.ApplyNewMessage(*frame.NewMessage)
	case frame.MessageAck != nil:
		s.ApplyAck(frame.MessageAck.MessageID)
	case frame.ChatUpdate != nil:
		s.ApplyChatUpdate(*frame.ChatUpdate)
	case frame.StatusUpdate != nil:
		s.mu.Lock()
		s.statuses[frame.StatusUpdate.Node] = frame.StatusUpdate.Status
		s.mu.Unlock()
	}
}

// ApplyNewMessage folds a pushed message in. If it reconciles against a
// pending optimistic send the temp entry is replaced, never duplicated,
// even when the push outruns the HTTP response.
func (s *Store) ApplyNewMessage(msg models.Message) {
	if tempID, ok := s.rec.ResolveFromAuthoritative(msg); ok {
		s.mu.Lock()
		s.replaceLocked(msg.ChatID, tempID, msg)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chatLocked(msg.ChatID)
	for i, existing := range chat.Messages {
		if existing.ID == msg.ID {
			chat.Messages[i] = msg
			s.storeLocked(chat)
			return
		}
	}
	chat.Messages = append(chat.Messages, msg)
	sortMessages(chat.Messages)
	if msg.Timestamp > chat.LastActivity {
		chat.LastActivity = msg.Timestamp
	}
	if msg.Sender != s.self {
		chat.UnreadCount++
	}
	s.storeLocked(chat)
}

// ApplyAck advances a message to Delivered.
func (s *Store) ApplyAck(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range s.chats {
		for i, msg := range chat.Messages {
			if msg.ID != messageID {
				continue
			}
			if msg.Status.CanAdvance(models.StatusDelivered) {
				chat.Messages[i].Status = models.StatusDelivered
				s.storeLocked(chat)
			}
			return
		}
	}
}

// ApplyChatUpdate replaces a chat with the node's version, merged against
// local optimistic state.
func (s *Store) ApplyChatUpdate(chat models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	local := s.chats[chat.ID]
	chat.Messages = s.rec.Merge(local.Messages, chat.Messages)
	s.storeLocked(chat)
}

// Chats returns a snapshot sorted by most recent activity.
func (s *Store) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, chat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity > out[j].LastActivity })
	return out
}

// Chat returns one chat by id.
func (s *Store) Chat(chatID string) (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	return chat, ok
}

// NodeStatus returns the last pushed status for a node identity.
func (s *Store) NodeStatus(node string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[node]
	return status, ok
}

// WarmStart seeds the store from the on-disk cache so the UI renders
// before the first sync completes.
func (s *Store) WarmStart() error {
	if s.cache == nil {
		return nil
	}
	chats, err := s.cache.Chats()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range chats {
		s.chats[chat.ID] = chat
	}
	return nil
}

// Resync replaces the whole store with the node's state, keeping only
// optimistic messages inside the pending window.
func (s *Store) Resync(ctx context.Context) error {
	chats, err := s.api.GetChats(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	fresh := make(map[string]models.Chat, len(chats))
	for _, chat := range chats {
		local := s.chats[chat.ID]
		chat.Messages = s.rec.Merge(local.Messages, chat.Messages)
		fresh[chat.ID] = chat
	}
	stale := make([]string, 0)
	for id := range s.chats {
		if _, ok := fresh[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.chats = fresh
	s.mu.Unlock()

	if s.cache != nil {
		for _, chat := range chats {
			if err := s.cache.PutChat(chat); err != nil {
				s.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("cache write failed")
			}
		}
		for _, id := range stale {
			_ = s.cache.DeleteChat(id)
		}
		_ = s.cache.SetLastSync(time.Now().Unix())
	}
	return nil
}

// Run sweeps expired reconciliation entries until the context ends.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.rec.Sweep(now)
		}
	}
}

func (s *Store) appendLocked(msg models.Message) {
	chat := s.chatLocked(msg.ChatID)
	chat.Messages = append(chat.Messages, msg)
	if msg.Timestamp > chat.LastActivity {
		chat.LastActivity = msg.Timestamp
	}
	s.storeLocked(chat)
}

func (s *Store) replaceLocked(chatID, oldID string, msg models.Message) {
	chat := s.chatLocked(chatID)
	for i, existing := range chat.Messages {
		if existing.ID == oldID {
			chat.Messages[i] = msg
			sortMessages(chat.Messages)
			s.storeLocked(chat)
			return
		}
	}
	// Temp entry already gone (resync raced the response); fold in normally.
	for _, existing := range chat.Messages {
		if existing.ID == msg.ID {
			return
		}
	}
	chat.Messages = append(chat.Messages, msg)
	sortMessages(chat.Messages)
	s.storeLocked(chat)
}

func (s *Store) setStatusLocked(chatID, messageID string, status models.MessageStatus) {
	chat := s.chatLocked(chatID)
	for i, msg := range chat.Messages {
		if msg.ID == messageID {
			chat.Messages[i].Status = status
			s.storeLocked(chat)
			return
		}
	}
}

func (s *Store) chatLocked(chatID string) models.Chat {
	if chat, ok := s.chats[chatID]; ok {
		return chat
	}
	return models.Chat{ID: chatID, Notify: true}
}

func (s *Store) storeLocked(chat models.Chat) {
	s.chats[chat.ID] = chat
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}
