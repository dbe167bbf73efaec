package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/stream"
)

const questionPrefix = "Question: "

// Gateway abre un stream de respuesta para una pregunta del estudiante.
type Gateway interface {
	StreamAnswer(ctx context.Context, question string) (stream.Fragments, error)
}

// Config describe el proveedor compatible con OpenAI al que se delega la respuesta.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	SystemPrompt      string
	Timeout           time.Duration
	MaxQuestionLength int
	HTTPClient        *http.Client
}

// OpenAIGateway implementa Gateway usando go-openai en modo streaming.
type OpenAIGateway struct {
	client       *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
	maxLength    int
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewOpenAIGateway(cfg Config, logger *zap.Logger) *OpenAIGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = domain.MaxQuestionLength
	}
	return &OpenAIGateway{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		maxLength:    cfg.MaxQuestionLength,
		logger:       logger,
		tracer:       otel.Tracer("course-chat/llm"),
	}
}

// ValidateQuestion aplica las reglas de entrada antes de contactar al proveedor.
func ValidateQuestion(question string, maxLength int) (string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", fmt.Errorf("%w: question is empty", domain.ErrValidation)
	}
	if utf8.RuneCountInString(q) > maxLength {
		return "", fmt.Errorf("%w: question exceeds %d characters", domain.ErrValidation, maxLength)
	}
	return q, nil
}

func (g *OpenAIGateway) StreamAnswer(ctx context.Context, question string) (stream.Fragments, error) {
	q, err := ValidateQuestion(question, g.maxLength)
	if err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "llm.StreamAnswer", trace.WithAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.question_length", utf8.RuneCountInString(q)),
	))
	ctx, cancel := context.WithTimeout(ctx, g.timeout)

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: questionPrefix + q},
		},
		Stream: true,
	}
	upstream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		err = g.classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream")
		span.End()
		cancel()
		g.logger.Warn("llm stream open failed", zap.String("model", g.model), zap.Error(err))
		return nil, err
	}

	return &answerStream{
		upstream: upstream,
		ctx:      ctx,
		cancel:   cancel,
		span:     span,
		gateway:  g,
	}, nil
}

// classify envuelve cualquier falla del proveedor como ErrGateway.
func (g *OpenAIGateway) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: upstream timed out after %s", domain.ErrGateway, stream.ErrTimeout, g.timeout)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: upstream status %d: %s", domain.ErrGateway, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: upstream status %d", domain.ErrGateway, reqErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %w", domain.ErrGateway, err)
}

// answerStream adapta el stream del proveedor a stream.Fragments.
type answerStream struct {
	upstream  *openai.ChatCompletionStream
	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	gateway   *OpenAIGateway
	fragments int
	once      sync.Once
}

func (s *answerStream) Recv() (string, error) {
	for {
		chunk, err := s.upstream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			err = s.gateway.classify(s.ctx, err)
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, "stream interrupted")
			return "", err
		}
		text := deltaText(chunk)
		if text == "" {
			continue
		}
		s.fragments++
		return text, nil
	}
}

func (s *answerStream) Close() error {
	s.once.Do(func() {
		s.upstream.Close()
		s.cancel()
		s.span.SetAttributes(attribute.Int("llm.fragments", s.fragments))
		s.span.End()
	})
	return nil
}

// deltaText concatena el contenido textual de un chunk; los chunks sin texto
// (solo rol, razones de fin) devuelven "".
func deltaText(chunk openai.ChatCompletionStreamResponse) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	var b strings.Builder
	for _, choice := range chunk.Choices {
		b.WriteString(choice.Delta.Content)
	}
	return b.String()
}
