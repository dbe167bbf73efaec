package llm

import (
	"context"
	"io"

	"course-chat/internal/domain"
	"course-chat/internal/stream"
)

// MockGateway permite tests sin llamar a un LLM real.
type MockGateway struct {
	Fragments []string
	// StreamErr se devuelve después de entregar todos los fragmentos.
	StreamErr error
	Err       error
	Questions []string
}

func (m *MockGateway) StreamAnswer(ctx context.Context, question string) (stream.Fragments, error) {
	if _, err := ValidateQuestion(question, domain.MaxQuestionLength); err != nil {
		return nil, err
	}
	m.Questions = append(m.Questions, question)
	if m.Err != nil {
		return nil, m.Err
	}
	return &SliceFragments{Items: append([]string(nil), m.Fragments...), Err: m.StreamErr}, nil
}

// SliceFragments entrega una lista fija de fragmentos y luego Err o io.EOF.
type SliceFragments struct {
	Items  []string
	Err    error
	Closed bool
}

func (s *SliceFragments) Recv() (string, error) {
	if s.Closed {
		return "", io.EOF
	}
	if len(s.Items) == 0 {
		if s.Err != nil {
			return "", s.Err
		}
		return "", io.EOF
	}
	next := s.Items[0]
	s.Items = s.Items[1:]
	return next, nil
}

func (s *SliceFragments) Close() error {
	s.Closed = true
	return nil
}
