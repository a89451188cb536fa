package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-node/internal/mocks"
	"chat-node/internal/models"
)

func TestListenerAppliesPushedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		msg := models.Message{
			ID: "m1", ChatID: "alice.node:bob.node", Sender: "bob.node",
			Content: "hi", Timestamp: 200, Status: models.StatusDelivered,
		}
		payload, err := json.Marshal(models.ServerFrame{NewMessage: &msg})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	store := newTestStore(new(mocks.APIMock))
	listener := NewListener(server.URL, store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	require.Eventually(t, func() bool {
		chat, ok := store.Chat("alice.node:bob.node")
		return ok && len(chat.Messages) == 1
	}, time.Second, 5*time.Millisecond)

	chat, _ := store.Chat("alice.node:bob.node")
	assert.Equal(t, "m1", chat.Messages[0].ID)
	assert.Equal(t, 1, chat.UnreadCount)
}

func TestListenerSkipsMalformedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		msg := models.Message{ID: "m1", ChatID: "c1", Sender: "bob.node", Content: "hi", Timestamp: 200}
		payload, err := json.Marshal(models.ServerFrame{NewMessage: &msg})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	store := newTestStore(new(mocks.APIMock))
	listener := NewListener(server.URL, store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	require.Eventually(t, func() bool {
		chat, ok := store.Chat("c1")
		return ok && len(chat.Messages) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestListenerRedialsAfterLinkDrop(t *testing.T) {
	dials := make(chan struct{}, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		dials <- struct{}{}
		conn.Close()
	}))
	defer server.Close()

	store := newTestStore(new(mocks.APIMock))
	listener := NewListener(server.URL, store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-dials:
		case <-time.After(3 * time.Second):
			t.Fatal("listener did not redial")
		}
	}
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8083/ws", wsURL("http://localhost:8083"))
	assert.Equal(t, "wss://node.example/ws", wsURL("https://node.example"))
	assert.True(t, strings.HasSuffix(wsURL("localhost:8083"), "/ws"))
}
