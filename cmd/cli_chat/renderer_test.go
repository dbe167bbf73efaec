package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"

	"course-chat/internal/conversation"
	"course-chat/internal/domain"
	"course-chat/internal/stream"
)

type memBackend struct {
	messages map[string][]domain.Message
	seq      int
}

func (m *memBackend) GetOrCreateDefault(ctx context.Context, courseID string) (domain.Session, error) {
	return domain.Session{ID: "default", CourseID: courseID}, nil
}

func (m *memBackend) ListSessions(ctx context.Context, courseID string) ([]domain.Session, error) {
	return []domain.Session{}, nil
}

func (m *memBackend) CreateSession(ctx context.Context, courseID, title string) (domain.Session, error) {
	return domain.Session{ID: "new", CourseID: courseID}, nil
}

func (m *memBackend) RenameSession(ctx context.Context, sessionID, title string) (domain.Session, error) {
	return domain.Session{ID: sessionID, Title: &title}, nil
}

func (m *memBackend) DeleteSession(ctx context.Context, sessionID string) error { return nil }

func (m *memBackend) AppendMessage(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error) {
	m.seq++
	msg := domain.Message{ID: string(rune('a' + m.seq)), SessionID: sessionID, Role: role, Text: text}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

func (m *memBackend) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return m.messages[sessionID], nil
}

type scripted struct {
	items []string
	err   error
}

func (s *scripted) StreamAnswer(ctx context.Context, question string) (stream.Fragments, error) {
	return &scriptedStream{items: append([]string(nil), s.items...), err: s.err}, nil
}

type scriptedStream struct {
	items []string
	err   error
}

func (s *scriptedStream) Recv() (string, error) {
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

func (s *scriptedStream) Close() error { return nil }

func newTestController(out *bytes.Buffer, answers conversation.AnswerSource) (*conversation.Controller, *renderer) {
	color.NoColor = true
	backend := &memBackend{messages: map[string][]domain.Message{}}
	r := newRenderer(out)
	ctl := conversation.NewController("net-101", backend, backend, answers, conversation.WithNotifier(r.onChange))
	r.attach(ctl)
	return ctl, r
}

func TestRendererPrintsStreamOnce(t *testing.T) {
	var out bytes.Buffer
	ctl, r := newTestController(&out, &scripted{items: []string{"Hello ", "student", "!"}})

	err := ctl.SendMessage(context.Background(), "hi")
	r.finish("default", err)

	got := out.String()
	if strings.Count(got, "Hello student!") != 1 {
		t.Fatalf("expected answer printed once, got %q", got)
	}
	if !strings.Contains(got, "Bot > ") {
		t.Fatalf("missing bot prefix: %q", got)
	}
}

func TestRendererShowsFailureMessage(t *testing.T) {
	var out bytes.Buffer
	ctl, r := newTestController(&out, &scripted{err: errors.New("boom")})

	err := ctl.SendMessage(context.Background(), "hi")
	r.finish("default", err)

	got := out.String()
	if !strings.Contains(got, conversation.FailureMessage) {
		t.Fatalf("expected failure message, got %q", got)
	}
	if !strings.Contains(got, "boom") {
		t.Fatalf("expected cause in output, got %q", got)
	}
}

func TestRendererReprintsWhenFailureReplacesPartial(t *testing.T) {
	var out bytes.Buffer
	ctl, r := newTestController(&out, &scripted{items: []string{"Subnets split "}, err: errors.New("reset")})

	err := ctl.SendMessage(context.Background(), "hi")
	r.finish("default", err)

	got := out.String()
	if !strings.Contains(got, "Bot > "+conversation.FailureMessage) {
		t.Fatalf("expected failure message on its own line, got %q", got)
	}
	if strings.Contains(got, "Subnets split "+conversation.FailureMessage) {
		t.Fatalf("failure message glued to partial text: %q", got)
	}
}

type heldAnswer struct {
	started chan struct{}
	release chan struct{}
}

func (h *heldAnswer) StreamAnswer(ctx context.Context, question string) (stream.Fragments, error) {
	h.started <- struct{}{}
	<-h.release
	return &scriptedStream{items: []string{"ok"}}, nil
}

func TestReplSendTargetsSessionResolvedAtSubmit(t *testing.T) {
	var out bytes.Buffer
	held := &heldAnswer{started: make(chan struct{}), release: make(chan struct{})}
	ctl, r := newTestController(&out, held)
	p := &repl{ctx: context.Background(), ctl: ctl, r: r, out: &out}

	p.handle("first question")
	<-held.started
	p.handle("/new Other")
	close(held.release)
	p.wait()

	if ctl.Active() != "new" {
		t.Fatalf("expected new session active, got %q", ctl.Active())
	}
	if len(ctl.Transcript("default")) != 2 {
		t.Fatalf("expected exchange in default session, got %d entries", len(ctl.Transcript("default")))
	}
	if len(ctl.Transcript("new")) != 0 {
		t.Fatalf("unexpected entries in other session")
	}
}

func TestReplCommands(t *testing.T) {
	var out bytes.Buffer
	ctl, r := newTestController(&out, &scripted{items: []string{"ok"}})
	p := &repl{ctx: context.Background(), ctl: ctl, r: r, out: &out}

	if p.handle("/new Subnetting") {
		t.Fatalf("/new should not quit")
	}
	if ctl.Active() != "new" {
		t.Fatalf("expected new session active, got %q", ctl.Active())
	}
	p.handle("what is a /24?")
	p.wait()
	if len(ctl.Transcript("new")) != 2 {
		t.Fatalf("expected question and answer in transcript")
	}
	p.handle("/open 9")
	if !strings.Contains(out.String(), "no session 9") {
		t.Fatalf("expected range error, got %q", out.String())
	}
	if !p.handle("/quit") {
		t.Fatalf("/quit should end the loop")
	}
}
