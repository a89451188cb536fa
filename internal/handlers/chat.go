// Package handlers exposes the node's HTTP surface: chat CRUD, message
// operations, and the sync digest endpoint.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-node/internal/node"
	"chat-node/internal/repositories"
)

// ChatHandler manages chat and message endpoints.
type ChatHandler struct {
	engine *node.Engine
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(engine *node.Engine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

// ListChats returns every chat, most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.engine.GetChats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// CreateChat creates or returns the chat with a counterparty.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		Counterparty string `json:"counterparty" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.engine.CreateChat(c.Request.Context(), req.Counterparty)
	if err != nil {
		if errors.Is(err, node.ErrSelfChat) || errors.Is(err, node.ErrEmptyCounterparty) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}
	c.JSON(http.StatusOK, chat)
}

// GetChat returns one chat with its full message history.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.engine.GetChat(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	c.JSON(http.StatusOK, chat)
}

// DeleteChat removes the chat on this node only.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.engine.DeleteChat(c.Request.Context(), c.Param("chat_id")); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SendMessage accepts a message for delivery and returns it with its
// assigned id and current status.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content string  `json:"content" binding:"required"`
		ReplyTo *string `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), c.Param("chat_id"), req.Content, req.ReplyTo)
	if err != nil {
		switch {
		case errors.Is(err, node.ErrEmptyContent), errors.Is(err, node.ErrBadChatID), errors.Is(err, node.ErrSelfChat):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		}
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead resets the unread counter.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	if err := h.engine.MarkRead(c.Request.Context(), c.Param("chat_id")); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

// Block stops inbound messages from the chat's counterparty.
func (h *ChatHandler) Block(c *gin.Context) {
	h.setBlocked(c, true)
}

// Unblock resumes inbound messages from the chat's counterparty.
func (h *ChatHandler) Unblock(c *gin.Context) {
	h.setBlocked(c, false)
}

func (h *ChatHandler) setBlocked(c *gin.Context, blocked bool) {
	if err := h.engine.SetBlocked(c.Request.Context(), c.Param("chat_id"), blocked); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked})
}

// SetNotify toggles notifications for a chat.
func (h *ChatHandler) SetNotify(c *gin.Context) {
	var req struct {
		Notify *bool `json:"notify" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.SetNotify(c.Request.Context(), c.Param("chat_id"), *req.Notify); err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notify": *req.Notify})
}

// EditMessage replaces a message's content.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.EditMessage(c.Request.Context(), c.Param("message_id"), req.Content); err != nil {
		h.messageError(c, err, "could not edit message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"edited": true})
}

// DeleteMessage removes a message from the local log.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	if err := h.engine.DeleteMessage(c.Request.Context(), c.Param("message_id")); err != nil {
		h.messageError(c, err, "could not delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// AddReaction records an emoji reaction on a message.
func (h *ChatHandler) AddReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.AddReaction(c.Request.Context(), c.Param("message_id"), req.Emoji); err != nil {
		h.messageError(c, err, "could not add reaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reacted": true})
}

// RemoveReaction drops the local user's reaction from a message.
func (h *ChatHandler) RemoveReaction(c *gin.Context) {
	if err := h.engine.RemoveReaction(c.Request.Context(), c.Param("message_id"), c.Param("emoji")); err != nil {
		h.messageError(c, err, "could not remove reaction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// ForwardMessage copies a message into another chat.
func (h *ChatHandler) ForwardMessage(c *gin.Context) {
	var req struct {
		ToChatID string `json:"to_chat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.ForwardMessage(c.Request.Context(), c.Param("message_id"), req.ToChatID)
	if err != nil {
		h.messageError(c, err, "could not forward message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SyncHashes returns the per-chat digests used for consistency checks.
func (h *ChatHandler) SyncHashes(c *gin.Context) {
	digests, err := h.engine.Digests(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute digests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hashes": digests})
}

// Healthz reports liveness.
func (h *ChatHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node": h.engine.Self()})
}

func (h *ChatHandler) messageError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound), errors.Is(err, repositories.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, node.ErrEmptyContent), errors.Is(err, node.ErrBadChatID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
