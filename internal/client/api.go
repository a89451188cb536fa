// Package client implements the UI-side state engine: optimistic sends with
// temporary ids, reconciliation against the node's authoritative state, and
// the periodic digest verifier.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chat-node/internal/models"
)

// API is the node surface the client engine depends on.
type API interface {
	GetChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	SendMessage(ctx context.Context, chatID, content string, replyTo *string) (models.Message, error)
	SyncHashes(ctx context.Context) ([]models.ChatDigest, error)
}

// HTTPAPI talks to the node's HTTP endpoints.
type HTTPAPI struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAPI constructs an HTTPAPI against a node base URL.
func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAPI{baseURL: baseURL, client: client}
}

func (a *HTTPAPI) GetChats(ctx context.Context) ([]models.Chat, error) {
	var resp struct {
		Chats []models.Chat `json:"chats"`
	}
	if err := a.do(ctx, http.MethodGet, "/chats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (a *HTTPAPI) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	if err := a.do(ctx, http.MethodGet, "/chats/"+chatID, nil, &chat); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (a *HTTPAPI) SendMessage(ctx context.Context, chatID, content string, replyTo *string) (models.Message, error) {
	req := map[string]any{"content": content}
	if replyTo != nil {
		req["reply_to"] = *replyTo
	}
	var msg models.Message
	if err := a.do(ctx, http.MethodPost, "/chats/"+chatID+"/messages", req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (a *HTTPAPI) SyncHashes(ctx context.Context) ([]models.ChatDigest, error) {
	var resp struct {
		Hashes []models.ChatDigest `json:"hashes"`
	}
	if err := a.do(ctx, http.MethodGet, "/sync/hashes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hashes, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &RequestError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RequestError carries the node's HTTP status alongside its error body.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

// Rejected reports whether the node refused the request outright, as
// opposed to being unreachable.
func (e *RequestError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500
}
