package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/llm"
	"course-chat/internal/observability"
	"course-chat/internal/service"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	nextID   int
	listErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]domain.Session)}
}

func (f *fakeSessions) add(userID, courseID string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := time.Now().UTC()
	s := domain.Session{ID: fmt.Sprintf("s%d", f.nextID), UserID: userID, CourseID: courseID, CreatedAt: now, UpdatedAt: now}
	f.sessions[s.ID] = s
	return s
}

func (f *fakeSessions) GetOrCreateDefault(ctx context.Context, userID, courseID string) (domain.Session, error) {
	f.mu.Lock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.CourseID == courseID {
			f.mu.Unlock()
			return s, nil
		}
	}
	f.mu.Unlock()
	return f.add(userID, courseID), nil
}

func (f *fakeSessions) List(ctx context.Context, userID, courseID string) ([]domain.Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Session{}
	for _, s := range f.sessions {
		if s.UserID == userID && s.CourseID == courseID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) Create(ctx context.Context, userID, courseID, title string) (domain.Session, error) {
	s := f.add(userID, courseID)
	if title != "" {
		f.mu.Lock()
		s.Title = &title
		f.sessions[s.ID] = s
		f.mu.Unlock()
	}
	return s, nil
}

func (f *fakeSessions) Rename(ctx context.Context, sessionID, title string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	s.Title = &title
	f.sessions[sessionID] = s
	return s, nil
}

func (f *fakeSessions) Remove(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return domain.ErrNotFound
	}
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSessions) Authorize(ctx context.Context, userID, sessionID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if s.UserID != userID {
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrForbidden, sessionID)
	}
	return s, nil
}

type fakeMessages struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{messages: make(map[string][]domain.Message)}
}

func (f *fakeMessages) Append(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := domain.Message{
		ID:        fmt.Sprintf("m%d", len(f.messages[sessionID])+1),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	f.messages[sessionID] = append(f.messages[sessionID], m)
	return m, nil
}

func (f *fakeMessages) List(ctx context.Context, sessionID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message{}, f.messages[sessionID]...), nil
}

type fakeCourses struct {
	courses map[string]domain.Course
}

func (f *fakeCourses) Get(ctx context.Context, id string) (domain.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return domain.Course{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCourses) List(ctx context.Context) ([]domain.Course, error) {
	out := []domain.Course{}
	for _, c := range f.courses {
		out = append(out, c)
	}
	return out, nil
}

type fakeUsers struct{}

func (fakeUsers) EnsureUser(ctx context.Context, id, email, name string) (domain.User, error) {
	return domain.User{ID: id, Email: email, Name: name}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

type testServer struct {
	router   *gin.Engine
	jwt      *service.JWTService
	gateway  *llm.MockGateway
	sessions *fakeSessions
	messages *fakeMessages
	pingErr  error
}

func newTestServer(t *testing.T, limiter service.ChatRateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	ts := &testServer{
		jwt:      service.NewJWTService("secret", "course-chat", time.Hour),
		gateway:  &llm.MockGateway{},
		sessions: newFakeSessions(),
		messages: newFakeMessages(),
	}
	courses := &fakeCourses{courses: map[string]domain.Course{
		"net-101": {ID: "net-101", Name: "Networking Basics"},
	}}
	metrics := observability.NewStreamingMetrics(prometheus.NewRegistry())

	ts.router = NewRouter(logger, "course-chat-test", ts.jwt, Handlers{
		Chat:     NewChatHandler(logger, ts.gateway, limiter, metrics),
		Sessions: NewSessionHandler(logger, ts.sessions),
		Messages: NewMessageHandler(logger, ts.sessions, ts.messages),
		Courses:  NewCourseHandler(logger, courses),
		Users:    NewUserHandler(logger, fakeUsers{}),
		Health: NewHealthHandler(logger, func(context.Context) error {
			return ts.pingErr
		}),
	})
	return ts
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.jwt.IssueAccessToken(domain.User{ID: userID, Email: userID + "@example.com", Name: "Student"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func performRequest(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}
