package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-chat/internal/domain"
)

// MessageStore es el historial de mensajes que usan los handlers.
type MessageStore interface {
	Append(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error)
	List(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// MessageHandler lee y agrega mensajes de sesiones propias.
type MessageHandler struct {
	logger   *zap.Logger
	sessions SessionManager
	messages MessageStore
}

func NewMessageHandler(logger *zap.Logger, sessions SessionManager, messages MessageStore) *MessageHandler {
	return &MessageHandler{logger: logger, sessions: sessions, messages: messages}
}

// List maneja GET /chat/messages?sessionId=.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if _, err := h.sessions.Authorize(c.Request.Context(), userID, sessionID); err != nil {
		writeError(c, h.logger, "list messages", err)
		return
	}

	messages, err := h.messages.List(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, h.logger, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Create maneja POST /chat/messages.
func (h *MessageHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
		Role      string `json:"role" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		writeError(c, h.logger, "post message", err)
		return
	}
	if _, err := h.sessions.Authorize(c.Request.Context(), userID, req.SessionID); err != nil {
		writeError(c, h.logger, "post message", err)
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), req.SessionID, role, req.Message)
	if err != nil {
		writeError(c, h.logger, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}
