package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/repository"
)

var ErrUserServiceNotConfigured = errors.New("user service not configured")

// UserService mantiene la fila local de cada usuario autenticado.
type UserService struct {
	logger *zap.Logger
	users  repository.UserRepository
}

func NewUserService(logger *zap.Logger, users repository.UserRepository) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{logger: logger, users: users}
}

// EnsureUser crea o actualiza al usuario a partir de la identidad del token.
func (s *UserService) EnsureUser(ctx context.Context, id, email, name string) (domain.User, error) {
	if s == nil || s.users == nil {
		return domain.User{}, ErrUserServiceNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	user, err := s.users.Upsert(ctx, domain.User{
		ID:        id,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("ensure user failed", zap.String("user_id", id), zap.Error(err))
		return domain.User{}, err
	}
	return user, nil
}
