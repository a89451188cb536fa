package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-node/internal/mocks"
	"chat-node/internal/models"
)

func newTestStore(api API) *Store {
	rec := NewReconciler(5*time.Minute, zerolog.Nop())
	store := NewStore("alice.node", api, rec, nil, zerolog.Nop())
	store.now = func() int64 { return 100 }
	store.newTempID = func() string { return "temp-100-abc" }
	return store
}

func TestSendReplacesOptimisticWithNodeVersion(t *testing.T) {
	api := new(mocks.APIMock)
	store := newTestStore(api)

	real := models.Message{
		ID: "m1", ChatID: "alice.node:bob.node", Sender: "alice.node",
		Content: "hello", Timestamp: 102, Status: models.StatusSent,
	}
	api.On("SendMessage", mock.Anything, "alice.node:bob.node", "hello", (*string)(nil)).Return(real, nil).Once()

	msg, err := store.Send(context.Background(), "alice.node:bob.node", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	chat, ok := store.Chat("alice.node:bob.node")
	require.True(t, ok)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "m1", chat.Messages[0].ID)
	assert.Equal(t, models.StatusSent, chat.Messages[0].Status)
}

func TestSendRejectedByNodeMarksFailed(t *testing.T) {
	api := new(mocks.APIMock)
	store := newTestStore(api)

	api.On("SendMessage", mock.Anything, "alice.node:bob.node", "", (*string)(nil)).
		Return(models.Message{}, &RequestError{Status: 400, Message: "message content is empty"}).Once()

	_, err := store.Send(context.Background(), "alice.node:bob.node", "", nil)
	require.Error(t, err)

	chat, ok := store.Chat("alice.node:bob.node")
	require.True(t, ok)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, models.StatusFailed, chat.Messages[0].Status)
}

func TestSendUnreachableNodeKeepsSending(t *testing.T) {
	api := new(mocks.APIMock)
	store := newTestStore(api)

	api.On("SendMessage", mock.Anything, "alice.node:bob.node", "hello", (*string)(nil)).
		Return(models.Message{}, errors.New("connection refused")).Once()

	_, err := store.Send(context.Background(), "alice.node:bob.node", "hello", nil)
	require.Error(t, err)

	chat, ok := store.Chat("alice.node:bob.node")
	require.True(t, ok)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "temp-100-abc", chat.Messages[0].ID)
	assert.Equal(t, models.StatusSending, chat.Messages[0].Status)
}

func TestPushArrivingBeforeResponseDoesNotDuplicate(t *testing.T) {
	api := new(mocks.APIMock)
	store := newTestStore(api)

	real := models.Message{
		ID: "m1", ChatID: "alice.node:bob.node", Sender: "alice.node",
		Content: "hello", Timestamp: 102, Status: models.StatusSent,
	}
	// The websocket push lands while the HTTP response is still in flight.
	api.On("SendMessage", mock.Anything, "alice.node:bob.node", "hello", (*string)(nil)).
		Run(func(mock.Arguments) { store.ApplyNewMessage(real) }).
		Return(real, nil).Once()

	_, err := store.Send(context.Background(), "alice.node:bob.node", "hello", nil)
	require.NoError(t, err)

	chat, ok := store.Chat("alice.node:bob.node")
	require.True(t, ok)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "m1", chat.Messages[0].ID)
}

func TestApplyNewMessageFromCounterpartyBumpsUnread(t *testing.T) {
	store := newTestStore(new(mocks.APIMock))

	store.ApplyNewMessage(models.Message{
		ID: "m1", ChatID: "alice.node:bob.node", Sender: "bob.node",
		Content: "hi", Timestamp: 150, Status: models.StatusDelivered,
	})

	chat, ok := store.Chat("alice.node:bob.node")
	require.True(t, ok)
	assert.Equal(t, 1, chat.UnreadCount)
	assert.Equal(t, int64(150), chat.LastActivity)
}

func TestApplyAckAdvancesDelivery(t *testing.T) {
	store := newTestStore(new(mocks.APIMock))

	store.ApplyNewMessage(models.Message{
		ID: "m1", ChatID: "alice.node:bob.node", Sender: "alice.node",
		Content: "hi", Timestamp: 150, Status: models.StatusSent,
	})
	store.Apply(models.ServerFrame{MessageAck: &models.AckFrame{MessageID: "m1"}})

	chat, _ := store.Chat("alice.node:bob.node")
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, models.StatusDelivered, chat.Messages[0].Status)
}

func TestApplyAckNeverRegresses(t *testing.T) {
	store := newTestStore(new(mocks.APIMock))

	store.ApplyNewMessage(models.Message{
		ID: "m1", ChatID: "alice.node:bob.node", Sender: "alice.node",
		Content: "hi", Timestamp: 150, Status: models.StatusDelivered,
	})
	store.ApplyAck("m1")

	chat, _ := store.Chat("alice.node:bob.node")
	assert.Equal(t, models.StatusDelivered, chat.Messages[0].Status)
}

func TestApplyChatUpdateTrustsNode(t *testing.T) {
	store := newTestStore(new(mocks.APIMock))

	store.ApplyNewMessage(models.Message{ID: "m-stale", ChatID: "alice.node:bob.node", Sender: "alice.node", Timestamp: 50})

	update := models.Chat{
		ID:           "alice.node:bob.node",
		Counterparty: "bob.node",
		LastActivity: 200,
		Messages: []models.Message{
			{ID: "m1", Sender: "bob.node", Content: "hi", Timestamp: 200},
		},
	}
	store.Apply(models.ServerFrame{ChatUpdate: &update})

	chat, _ := store.Chat("alice.node:bob.node")
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "m1", chat.Messages[0].ID)
}

func TestResyncReplacesWholeState(t *testing.T) {
	api := new(mocks.APIMock)
	store := newTestStore(api)

	store.ApplyNewMessage(models.Message{ID: "m-old", ChatID: "alice.node:gone.node", Sender: "gone.node", Timestamp: 10})

	api.On("GetChats", mock.Anything).Return([]models.Chat{
		{ID: "alice.node:bob.node", Counterparty: "bob.node", LastActivity: 300,
			Messages: []models.Message{{ID: "m1", Sender: "bob.node", Timestamp: 300}}},
	}, nil).Once()

	require.NoError(t, store.Resync(context.Background()))

	_, staleExists := store.Chat("alice.node:gone.node")
	assert.False(t, staleExists)

	chats := store.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "alice.node:bob.node", chats[0].ID)
}

func TestChatsSortedByRecentActivity(t *testing.T) {
	store := newTestStore(new(mocks.APIMock))

	store.ApplyChatUpdate(models.Chat{ID: "alice.node:bob.node", LastActivity: 100})
	store.ApplyChatUpdate(models.Chat{ID: "alice.node:carol.node", LastActivity: 300})

	chats := store.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "alice.node:carol.node", chats[0].ID)
}

func TestStatusUpdateTracked(t *testing.T) {
	store := newTestStore(new(mocks.APIMock))

	store.Apply(models.ServerFrame{StatusUpdate: &models.StatusUpdateFrame{Node: "bob.node", Status: "away"}})

	status, ok := store.NodeStatus("bob.node")
	require.True(t, ok)
	assert.Equal(t, "away", status)
}
