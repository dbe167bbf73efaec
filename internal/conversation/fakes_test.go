package conversation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"course-chat/internal/domain"
	"course-chat/internal/stream"
)

type fakeBackend struct {
	mu          sync.Mutex
	sessions    []domain.Session
	messages    map[string][]domain.Message
	seq         int
	appendErr   map[domain.Role]error
	appendCtx   []error
	listCalls   map[string]int
	defaultCall int
	deleteErr   error
	// Con questionSaved no nil, AppendMessage(user) avisa tras guardar y
	// espera releaseQuestion antes de responder.
	questionSaved   chan struct{}
	releaseQuestion chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages:  make(map[string][]domain.Message),
		appendErr: make(map[domain.Role]error),
		listCalls: make(map[string]int),
	}
}

func (b *fakeBackend) addSession(id string) domain.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := domain.Session{ID: id, UserID: "u1", CourseID: "net-101", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	b.sessions = append(b.sessions, s)
	return s
}

func (b *fakeBackend) seed(sessionID string, role domain.Role, text string) domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	m := domain.Message{ID: fmt.Sprintf("m%d", b.seq), SessionID: sessionID, Role: role, Text: text, CreatedAt: time.Now().UTC()}
	b.messages[sessionID] = append(b.messages[sessionID], m)
	return m
}

func (b *fakeBackend) stored(sessionID string) []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message{}, b.messages[sessionID]...)
}

func (b *fakeBackend) GetOrCreateDefault(ctx context.Context, courseID string) (domain.Session, error) {
	b.mu.Lock()
	b.defaultCall++
	for _, s := range b.sessions {
		if s.ID == "default" {
			b.mu.Unlock()
			return s, nil
		}
	}
	b.mu.Unlock()
	return b.addSession("default"), nil
}

func (b *fakeBackend) ListSessions(ctx context.Context, courseID string) ([]domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Session{}, b.sessions...), nil
}

func (b *fakeBackend) CreateSession(ctx context.Context, courseID, title string) (domain.Session, error) {
	b.mu.Lock()
	id := fmt.Sprintf("s%d", len(b.sessions)+1)
	b.mu.Unlock()
	s := b.addSession(id)
	if title != "" {
		s.Title = &title
	}
	return s, nil
}

func (b *fakeBackend) RenameSession(ctx context.Context, sessionID, title string) (domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.sessions {
		if b.sessions[i].ID == sessionID {
			b.sessions[i].Title = &title
			return b.sessions[i], nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (b *fakeBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.messages, sessionID)
	for i := range b.sessions {
		if b.sessions[i].ID == sessionID {
			b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (b *fakeBackend) AppendMessage(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error) {
	b.mu.Lock()
	b.appendCtx = append(b.appendCtx, ctx.Err())
	err := b.appendErr[role]
	saved, release := b.questionSaved, b.releaseQuestion
	b.mu.Unlock()
	if err != nil {
		return domain.Message{}, err
	}
	m := b.seed(sessionID, role, text)
	if role == domain.RoleUser && saved != nil {
		saved <- struct{}{}
		<-release
	}
	return m, nil
}

func (b *fakeBackend) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	b.mu.Lock()
	b.listCalls[sessionID]++
	b.mu.Unlock()
	return b.stored(sessionID), nil
}

// gatedStream entrega lo que se envía por ch; al cerrarse ch devuelve err o io.EOF.
type gatedStream struct {
	ctx    context.Context
	ch     chan string
	err    error
	closed chan struct{}
	once   sync.Once
}

func newGatedStream(ctx context.Context) *gatedStream {
	return &gatedStream{ctx: ctx, ch: make(chan string), closed: make(chan struct{})}
}

func (g *gatedStream) Recv() (string, error) {
	select {
	case <-g.ctx.Done():
		return "", g.ctx.Err()
	case frag, ok := <-g.ch:
		if !ok {
			if g.err != nil {
				return "", g.err
			}
			return "", io.EOF
		}
		return frag, nil
	}
}

func (g *gatedStream) Close() error {
	g.once.Do(func() { close(g.closed) })
	return nil
}

// fakeAnswers abre un stream por pregunta según open.
type fakeAnswers struct {
	mu        sync.Mutex
	questions []string
	open      func(ctx context.Context, question string) (stream.Fragments, error)
}

func (a *fakeAnswers) StreamAnswer(ctx context.Context, question string) (stream.Fragments, error) {
	a.mu.Lock()
	a.questions = append(a.questions, question)
	a.mu.Unlock()
	return a.open(ctx, question)
}

func (a *fakeAnswers) asked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.questions...)
}

// sliceStream entrega una lista fija de fragmentos y luego err o io.EOF.
type sliceStream struct {
	items []string
	err   error
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.items) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	next := s.items[0]
	s.items = s.items[1:]
	return next, nil
}

func (s *sliceStream) Close() error { return nil }

func fixedAnswer(items []string, err error) *fakeAnswers {
	return &fakeAnswers{open: func(context.Context, string) (stream.Fragments, error) {
		return &sliceStream{items: append([]string(nil), items...), err: err}, nil
	}}
}

type notifications struct {
	mu  sync.Mutex
	ids []string
}

func (n *notifications) record(id string) {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
}

func (n *notifications) count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, v := range n.ids {
		if v == id {
			total++
		}
	}
	return total
}

func (n *notifications) reset() {
	n.mu.Lock()
	n.ids = nil
	n.mu.Unlock()
}
