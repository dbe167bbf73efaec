package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"course-chat/internal/domain"
	"course-chat/internal/repository"
)

const courseListKey = "courses:all"

var ErrCourseServiceNotConfigured = errors.New("course service not configured")

// CourseService resuelve cursos con una caché en memoria de TTL corto.
type CourseService struct {
	repo  repository.CourseRepository
	cache *cache.Cache
}

func NewCourseService(repo repository.CourseRepository, ttl time.Duration) *CourseService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CourseService{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *CourseService) Get(ctx context.Context, id string) (domain.Course, error) {
	if s == nil || s.repo == nil {
		return domain.Course{}, ErrCourseServiceNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Course{}, fmt.Errorf("%w: course id is required", domain.ErrValidation)
	}
	key := "course:" + id
	if cached, ok := s.cache.Get(key); ok {
		return cached.(domain.Course), nil
	}
	course, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Course{}, err
	}
	s.cache.Set(key, course, cache.DefaultExpiration)
	return course, nil
}

func (s *CourseService) List(ctx context.Context) ([]domain.Course, error) {
	if s == nil || s.repo == nil {
		return nil, ErrCourseServiceNotConfigured
	}
	if cached, ok := s.cache.Get(courseListKey); ok {
		return cached.([]domain.Course), nil
	}
	courses, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(courseListKey, courses, cache.DefaultExpiration)
	return courses, nil
}
