package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/service"
)

const (
	authClaimsKey = "auth_claims"
	authUserKey   = "auth_user_id"
)

var errAuthNotConfigured = errors.New("token verifier not configured")

// RequireBearer exige un access token válido en Authorization y deja en el
// contexto las claims y el id del usuario que consumen los handlers.
func RequireBearer(logger *zap.Logger, tokens *service.JWTService) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if tokens == nil {
			writeError(c, logger, "authenticate", errAuthNotConfigured)
			c.Abort()
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			writeError(c, logger, "authenticate", fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized))
			c.Abort()
			return
		}

		claims, err := tokens.ParseAccessToken(raw)
		if err != nil {
			writeError(c, logger, "authenticate", fmt.Errorf("%w: %w", domain.ErrUnauthorized, err))
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Set(authUserKey, claims.UserID)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authClaims devuelve las claims que dejó RequireBearer.
func authClaims(c *gin.Context) (service.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.Claims{}, false
	}
	claims, ok := val.(service.Claims)
	return claims, ok
}
