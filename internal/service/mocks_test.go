package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"course-chat/internal/domain"
)

// memorySessionRepo imita PgSessionRepository sobre un mapa.
type memorySessionRepo struct {
	mu         sync.Mutex
	sessions   map[string]domain.Session
	defaults   map[string]string
	touched    map[string]time.Time
	titleErr   error
	latestErr  error
	createdDef int
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{
		sessions: make(map[string]domain.Session),
		defaults: make(map[string]string),
		touched:  make(map[string]time.Time),
	}
}

func (m *memorySessionRepo) Create(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memorySessionRepo) CreateDefault(_ context.Context, s domain.Session) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.UserID + "|" + s.CourseID
	if id, ok := m.defaults[key]; ok {
		return m.sessions[id], nil
	}
	m.defaults[key] = s.ID
	m.sessions[s.ID] = s
	m.createdDef++
	return s, nil
}

func (m *memorySessionRepo) GetByID(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memorySessionRepo) LatestByUserCourse(ctx context.Context, userID, courseID string) (domain.Session, error) {
	if m.latestErr != nil {
		return domain.Session{}, m.latestErr
	}
	list, _ := m.ListByUserCourse(ctx, userID, courseID)
	if len(list) == 0 {
		return domain.Session{}, domain.ErrNotFound
	}
	return list[0], nil
}

func (m *memorySessionRepo) ListByUserCourse(_ context.Context, userID, courseID string) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Session, 0)
	for _, s := range m.sessions {
		if s.UserID == userID && s.CourseID == courseID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memorySessionRepo) UpdateTitle(_ context.Context, id, title string, at time.Time) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	s.Title = &title
	if at.After(s.UpdatedAt) {
		s.UpdatedAt = at
	}
	m.sessions[id] = s
	return s, nil
}

func (m *memorySessionRepo) SetTitleIfDefault(_ context.Context, id, title string) (bool, error) {
	if m.titleErr != nil {
		return false, m.titleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !s.HasDefaultTitle() {
		return false, nil
	}
	s.Title = &title
	if now := time.Now().UTC(); now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
	m.sessions[id] = s
	return true, nil
}

func (m *memorySessionRepo) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if at.After(s.UpdatedAt) {
		s.UpdatedAt = at
	}
	m.sessions[id] = s
	m.touched[id] = at
	return nil
}

func (m *memorySessionRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.sessions, id)
	if m.defaults[s.UserID+"|"+s.CourseID] == id {
		delete(m.defaults, s.UserID+"|"+s.CourseID)
	}
	return nil
}

type mockMessageRepo struct {
	created   []domain.Message
	createErr error
	listData  []domain.Message
	listErr   error
}

func (m *mockMessageRepo) Create(_ context.Context, message domain.Message) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, message)
	return nil
}

func (m *mockMessageRepo) ListBySessionID(_ context.Context, _ string) ([]domain.Message, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listData, nil
}

type mockCourseRepo struct {
	mu      sync.Mutex
	courses map[string]domain.Course
	gets    int
	lists   int
}

func (m *mockCourseRepo) GetByID(_ context.Context, id string) (domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	c, ok := m.courses[id]
	if !ok {
		return domain.Course{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *mockCourseRepo) List(_ context.Context) ([]domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := make([]domain.Course, 0, len(m.courses))
	for _, c := range m.courses {
		out = append(out, c)
	}
	return out, nil
}
