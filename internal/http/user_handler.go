package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-chat/internal/domain"
)

type UserRegistry interface {
	EnsureUser(ctx context.Context, id, email, name string) (domain.User, error)
}

type UserHandler struct {
	logger *zap.Logger
	users  UserRegistry
}

func NewUserHandler(logger *zap.Logger, users UserRegistry) *UserHandler {
	return &UserHandler{logger: logger, users: users}
}

// EnsureMe maneja POST /users/me: sincroniza la fila local con los claims del token.
func (h *UserHandler) EnsureMe(c *gin.Context) {
	claims, ok := authClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.users.EnsureUser(c.Request.Context(), claims.UserID, claims.Email, claims.Name)
	if err != nil {
		writeError(c, h.logger, "ensure user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
