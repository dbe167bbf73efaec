package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-chat/internal/domain"
)

// SessionManager es el registro de sesiones que usan los handlers.
type SessionManager interface {
	GetOrCreateDefault(ctx context.Context, userID, courseID string) (domain.Session, error)
	List(ctx context.Context, userID, courseID string) ([]domain.Session, error)
	Create(ctx context.Context, userID, courseID, title string) (domain.Session, error)
	Rename(ctx context.Context, sessionID, title string) (domain.Session, error)
	Remove(ctx context.Context, sessionID string) error
	Authorize(ctx context.Context, userID, sessionID string) (domain.Session, error)
}

// SessionHandler expone las sesiones de chat del usuario autenticado.
type SessionHandler struct {
	logger   *zap.Logger
	sessions SessionManager
}

func NewSessionHandler(logger *zap.Logger, sessions SessionManager) *SessionHandler {
	return &SessionHandler{logger: logger, sessions: sessions}
}

// List maneja GET /chat/sessions?courseId=&userId=.
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if requested := c.Query("userId"); requested != "" && requested != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	courseID := c.Query("courseId")
	if courseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "courseId is required"})
		return
	}

	sessions, err := h.sessions.List(c.Request.Context(), userID, courseID)
	if err != nil {
		writeError(c, h.logger, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetOrCreate maneja POST /chat/sessions: devuelve la sesión por defecto del curso.
func (h *SessionHandler) GetOrCreate(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		CourseID string `json:"courseId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.sessions.GetOrCreateDefault(c.Request.Context(), userID, req.CourseID)
	if err != nil {
		writeError(c, h.logger, "get or create session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// Create maneja POST /chat/sessions/new.
func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		CourseID string `json:"courseId" binding:"required"`
		Title    string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), userID, req.CourseID, req.Title)
	if err != nil {
		writeError(c, h.logger, "create session", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// Rename maneja PUT /chat/sessions/:id.
func (h *SessionHandler) Rename(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid rename session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sessionID := c.Param("id")
	if _, err := h.sessions.Authorize(c.Request.Context(), userID, sessionID); err != nil {
		writeError(c, h.logger, "rename session", err)
		return
	}
	session, err := h.sessions.Rename(c.Request.Context(), sessionID, req.Title)
	if err != nil {
		writeError(c, h.logger, "rename session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// Delete maneja DELETE /chat/sessions/:id.
func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	if _, err := h.sessions.Authorize(c.Request.Context(), userID, sessionID); err != nil {
		writeError(c, h.logger, "delete session", err)
		return
	}
	if err := h.sessions.Remove(c.Request.Context(), sessionID); err != nil {
		writeError(c, h.logger, "delete session", err)
		return
	}
	c.Status(http.StatusNoContent)
}
