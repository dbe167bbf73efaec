// Package apiclient es el cliente HTTP del backend de chat usado por la CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/stream"
)

const defaultTimeout = 30 * time.Second

// Client habla con la API del backend autenticándose con un Bearer token.
// Las llamadas JSON tienen un timeout acotado; el streaming de respuestas
// solo termina por el contexto del llamador.
type Client struct {
	baseURL string
	token   string
	userID  string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient reemplaza el cliente HTTP subyacente (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New construye el cliente. userID se usa para acotar los listados de sesiones.
func New(baseURL, token, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		timeout: defaultTimeout,
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) UserID() string {
	return c.userID
}

// GetOrCreateDefault devuelve la sesión por defecto del usuario en el curso.
func (c *Client) GetOrCreateDefault(ctx context.Context, courseID string) (domain.Session, error) {
	var out struct {
		Session domain.Session `json:"session"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/chat/sessions", map[string]string{"courseId": courseID}, &out)
	return out.Session, err
}

// ListSessions devuelve las sesiones del curso, más reciente primero.
func (c *Client) ListSessions(ctx context.Context, courseID string) ([]domain.Session, error) {
	q := url.Values{}
	q.Set("courseId", courseID)
	if c.userID != "" {
		q.Set("userId", c.userID)
	}
	var out struct {
		Sessions []domain.Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/sessions?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if out.Sessions == nil {
		out.Sessions = []domain.Session{}
	}
	return out.Sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, courseID, title string) (domain.Session, error) {
	var out struct {
		Session domain.Session `json:"session"`
	}
	body := map[string]string{"courseId": courseID}
	if title != "" {
		body["title"] = title
	}
	err := c.doJSON(ctx, http.MethodPost, "/chat/sessions/new", body, &out)
	return out.Session, err
}

func (c *Client) RenameSession(ctx context.Context, sessionID, title string) (domain.Session, error) {
	var out struct {
		Session domain.Session `json:"session"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/chat/sessions/"+url.PathEscape(sessionID), map[string]string{"title": title}, &out)
	return out.Session, err
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// AppendMessage persiste un mensaje en la sesión.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error) {
	var out struct {
		Message domain.Message `json:"message"`
	}
	body := map[string]string{
		"sessionId": sessionID,
		"role":      string(role),
		"message":   text,
	}
	err := c.doJSON(ctx, http.MethodPost, "/chat/messages", body, &out)
	return out.Message, err
}

// ListMessages devuelve el historial de la sesión en orden cronológico.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []domain.Message{}
	}
	return out.Messages, nil
}

func (c *Client) ListCourses(ctx context.Context) ([]domain.Course, error) {
	var out struct {
		Courses []domain.Course `json:"courses"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/courses", nil, &out); err != nil {
		return nil, err
	}
	return out.Courses, nil
}

// EnsureUser registra al usuario del token en el backend.
func (c *Client) EnsureUser(ctx context.Context) (domain.User, error) {
	var out struct {
		User domain.User `json:"user"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/users/me", nil, &out)
	return out.User, err
}

// StreamAnswer abre POST /chat y devuelve los fragmentos a medida que llegan.
func (c *Client) StreamAnswer(ctx context.Context, question string) (stream.Fragments, error) {
	payload, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, c.statusError(http.MethodPost, "/chat", resp)
	}
	return stream.NewResponseReader(resp)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s timed out", domain.ErrGateway, method, path)
		}
		return fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// statusError convierte una respuesta no exitosa en un error del dominio.
func (c *Client) statusError(method, path string, resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Error == "" {
		apiErr.Error = strings.TrimSpace(string(raw))
	}
	c.logger.Debug("api error",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("error", apiErr.Error),
	)
	return fmt.Errorf("%w: %s %s: status=%d %s", sentinelFor(resp.StatusCode), method, path, resp.StatusCode, apiErr.Error)
}

func sentinelFor(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.ErrGateway
	default:
		return domain.ErrStorage
	}
}
