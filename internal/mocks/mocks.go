// Package mocks holds hand-written testify mocks shared across package
// tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-node/internal/models"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) UpsertChat(ctx context.Context, chat models.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChatByCounterparty(ctx context.Context, counterparty string) (models.Chat, error) {
	args := m.Called(ctx, counterparty)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) DeleteChat(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) MarkRead(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) IncrementUnread(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) TouchActivity(ctx context.Context, chatID string, ts int64) error {
	args := m.Called(ctx, chatID, ts)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SetBlocked(ctx context.Context, chatID string, blocked bool) error {
	args := m.Called(ctx, chatID, blocked)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SetNotify(ctx context.Context, chatID string, notify bool) error {
	args := m.Called(ctx, chatID, notify)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Exists(ctx context.Context, chatID, messageID string) (bool, error) {
	args := m.Called(ctx, chatID, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, error) {
	args := m.Called(ctx, messageID, to)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID, content string) error {
	args := m.Called(ctx, messageID, content)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Delete(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (bool, error) {
	args := m.Called(ctx, messageID, reaction)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, messageID, emoji, user string) (bool, error) {
	args := m.Called(ctx, messageID, emoji, user)
	return args.Bool(0), args.Error(1)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Send(ctx context.Context, destination string, msg models.Message) error {
	args := m.Called(ctx, destination, msg)
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type APIMock struct {
	mock.Mock
}

func (m *APIMock) GetChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

func (m *APIMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *APIMock) SendMessage(ctx context.Context, chatID, content string, replyTo *string) (models.Message, error) {
	args := m.Called(ctx, chatID, content, replyTo)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIMock) SyncHashes(ctx context.Context) ([]models.ChatDigest, error) {
	args := m.Called(ctx)
	var list []models.ChatDigest
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatDigest)
	}
	return list, args.Error(1)
}
