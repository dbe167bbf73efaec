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

// CourseLookup resuelve cursos existentes.
type CourseLookup interface {
	Get(ctx context.Context, id string) (domain.Course, error)
}

// SessionService administra las sesiones de chat de cada (usuario, curso).
type SessionService struct {
	logger  *zap.Logger
	repo    repository.SessionRepository
	courses CourseLookup
}

var ErrSessionServiceNotConfigured = errors.New("session service not configured")

// NewSessionService construye el servicio. courses puede ser nil si no se
// valida la existencia del curso.
func NewSessionService(logger *zap.Logger, repo repository.SessionRepository, courses CourseLookup) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{logger: logger, repo: repo, courses: courses}
}

func (s *SessionService) ready() error {
	if s == nil || s.repo == nil {
		return ErrSessionServiceNotConfigured
	}
	return nil
}

func requireIDs(userID, courseID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	courseID = strings.TrimSpace(courseID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if courseID == "" {
		return "", "", fmt.Errorf("%w: course id is required", domain.ErrValidation)
	}
	return userID, courseID, nil
}

// GetOrCreateDefault devuelve la sesión más reciente del par o crea la
// sesión por defecto con título vacío.
func (s *SessionService) GetOrCreateDefault(ctx context.Context, userID, courseID string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	userID, courseID, err := requireIDs(userID, courseID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.courses != nil {
		if _, err := s.courses.Get(ctx, courseID); err != nil {
			return domain.Session{}, err
		}
	}

	latest, err := s.repo.LatestByUserCourse(ctx, userID, courseID)
	if err == nil {
		return latest, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, err
	}

	now := time.Now().UTC()
	session, err := s.repo.CreateDefault(ctx, domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  courseID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.logger.Info("default session ready",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.String("course_id", courseID),
	)
	return session, nil
}

func (s *SessionService) List(ctx context.Context, userID, courseID string) ([]domain.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	userID, courseID, err := requireIDs(userID, courseID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByUserCourse(ctx, userID, courseID)
}

// Create inserta siempre una sesión nueva ("New Chat" explícito).
func (s *SessionService) Create(ctx context.Context, userID, courseID, title string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	userID, courseID, err := requireIDs(userID, courseID)
	if err != nil {
		return domain.Session{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	if err := validateTitle(title); err != nil {
		return domain.Session{}, err
	}
	if s.courses != nil {
		if _, err := s.courses.Get(ctx, courseID); err != nil {
			return domain.Session{}, err
		}
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CourseID:  courseID,
		Title:     &title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionService) Rename(ctx context.Context, sessionID, title string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Session{}, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if err := validateTitle(title); err != nil {
		return domain.Session{}, err
	}
	return s.repo.UpdateTitle(ctx, strings.TrimSpace(sessionID), title, time.Now().UTC())
}

// Remove borra la sesión y su historial.
func (s *SessionService) Remove(ctx context.Context, sessionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Authorize verifica que la sesión exista y pertenezca al usuario.
func (s *SessionService) Authorize(ctx context.Context, userID, sessionID string) (domain.Session, error) {
	if err := s.ready(); err != nil {
		return domain.Session{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.UserID != userID {
		return domain.Session{}, fmt.Errorf("%w: session belongs to another user", domain.ErrForbidden)
	}
	return session, nil
}

func validateTitle(title string) error {
	if utf8.RuneCountInString(title) > domain.MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", domain.ErrValidation, domain.MaxTitleLength)
	}
	return nil
}
