package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/repository"
)

// MessageService persiste el historial de una sesión y mantiene sus efectos
// laterales: actividad de la sesión y auto-titulado.
type MessageService struct {
	logger   *zap.Logger
	repo     repository.MessageRepository
	sessions repository.SessionRepository
}

var ErrMessageServiceNotConfigured = errors.New("message service not configured")

func NewMessageService(logger *zap.Logger, repo repository.MessageRepository, sessions repository.SessionRepository) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{logger: logger, repo: repo, sessions: sessions}
}

// Append agrega un mensaje inmutable. El texto se guarda tal cual llega; solo
// se valida su versión recortada.
func (s *MessageService) Append(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error) {
	if s == nil || s.repo == nil || s.sessions == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Message{}, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if role != domain.RoleUser && role != domain.RoleBot {
		return domain.Message{}, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.Message{}, fmt.Errorf("%w: message is empty", domain.ErrValidation)
	}
	if role == domain.RoleUser && utf8.RuneCountInString(trimmed) > domain.MaxQuestionLength {
		return domain.Message{}, fmt.Errorf("%w: message exceeds %d characters", domain.ErrValidation, domain.MaxQuestionLength)
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return domain.Message{}, err
	}

	if err := s.sessions.Touch(ctx, sessionID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if role == domain.RoleUser {
		s.applyDerivedTitle(ctx, sessionID, trimmed)
	}
	return msg, nil
}

// applyDerivedTitle es best-effort: un error nunca invalida el mensaje guardado.
func (s *MessageService) applyDerivedTitle(ctx context.Context, sessionID, text string) {
	title := domain.DeriveTitle(text)
	if title == "" {
		return
	}
	changed, err := s.sessions.SetTitleIfDefault(ctx, sessionID, title)
	if err != nil {
		s.logger.Warn("auto title failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if changed {
		s.logger.Debug("session auto titled", zap.String("session_id", sessionID), zap.String("title", title))
	}
}

func (s *MessageService) List(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return []domain.Message{}, nil
	}
	messages, err := s.repo.ListBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}
