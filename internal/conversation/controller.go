// Package conversation mantiene el estado de chat del lado del cliente:
// transcripciones por sesión, envíos optimistas y el streaming de respuestas
// hacia la sesión que originó la pregunta.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"course-chat/internal/domain"
	"course-chat/internal/stream"
)

// FailureMessage reemplaza la respuesta de un envío fallido. Solo un corte por
// plazo conserva el texto parcial recibido.
const FailureMessage = "Sorry, I had trouble answering that."

const defaultSettleTimeout = 10 * time.Second

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("a message is already being answered in this session")
	ErrEmptyAnswer    = errors.New("answer stream ended without text")
)

type SessionStore interface {
	GetOrCreateDefault(ctx context.Context, courseID string) (domain.Session, error)
	ListSessions(ctx context.Context, courseID string) ([]domain.Session, error)
	CreateSession(ctx context.Context, courseID, title string) (domain.Session, error)
	RenameSession(ctx context.Context, sessionID, title string) (domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, text string) (domain.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
}

type AnswerSource interface {
	StreamAnswer(ctx context.Context, question string) (stream.Fragments, error)
}

// State es la fase de envío de una sesión.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSettling
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateSettling:
		return "settling"
	default:
		return "idle"
	}
}

// Entry es una línea de la transcripción. LocalID es estable durante toda la
// vida de la entrada; ID queda vacío hasta que el backend la persiste.
type Entry struct {
	LocalID   string
	ID        string
	Role      domain.Role
	Text      string
	CreatedAt time.Time
	Pending   bool
	Failed    bool
}

// Notifier recibe el id de la sesión cuya transcripción cambió.
type Notifier func(sessionID string)

type Option func(*Controller)

func WithNotifier(fn Notifier) Option {
	return func(c *Controller) { c.notify = fn }
}

// WithRenderInterval limita la frecuencia de notificaciones por fragmento.
// Cero notifica cada fragmento.
func WithRenderInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.renderInterval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSettleTimeout acota la persistencia de la respuesta al terminar el stream.
func WithSettleTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.settleTimeout = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type slot struct {
	entries    []Entry
	loaded     bool
	state      State
	failure    error
	lastRender time.Time
}

func (s *slot) indexOf(localID string) int {
	for i := range s.entries {
		if s.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// persist marca la entrada localID como guardada con el id de m y descarta
// cualquier copia de m que haya llegado antes con el historial. Requiere c.mu.
func (s *slot) persist(localID string, m domain.Message) *Entry {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ID == m.ID && e.LocalID != localID {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	i := s.indexOf(localID)
	if i < 0 {
		return nil
	}
	e := &s.entries[i]
	e.ID = m.ID
	e.CreatedAt = m.CreatedAt
	e.Pending = false
	return e
}

// Controller coordina sesiones, mensajes y respuestas de un curso.
// Es seguro para uso concurrente; las notificaciones se emiten sin tomar el lock.
type Controller struct {
	courseID string
	sessions SessionStore
	messages MessageStore
	answers  AnswerSource

	logger         *zap.Logger
	notify         Notifier
	renderInterval time.Duration
	settleTimeout  time.Duration
	now            func() time.Time

	mu     sync.Mutex
	active string
	list   []domain.Session
	slots  map[string]*slot
}

func NewController(courseID string, sessions SessionStore, messages MessageStore, answers AnswerSource, opts ...Option) *Controller {
	c := &Controller{
		courseID:      courseID,
		sessions:      sessions,
		messages:      messages,
		answers:       answers,
		logger:        zap.NewNop(),
		settleTimeout: defaultSettleTimeout,
		now:           time.Now,
		slots:         make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) CourseID() string {
	return c.courseID
}

// slotLocked devuelve (creando si hace falta) el slot de la sesión. Requiere c.mu.
func (c *Controller) slotLocked(sessionID string) *slot {
	sl, ok := c.slots[sessionID]
	if !ok {
		sl = &slot{}
		c.slots[sessionID] = sl
	}
	return sl
}

func (c *Controller) fire(sessionID string) {
	if c.notify != nil && sessionID != "" {
		c.notify(sessionID)
	}
}

// SetActive cambia la sesión visible. No hace I/O.
func (c *Controller) SetActive(sessionID string) {
	c.mu.Lock()
	c.active = sessionID
	if sessionID != "" {
		c.slotLocked(sessionID)
	}
	c.mu.Unlock()
	c.fire(sessionID)
}

func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Open activa la sesión y carga su historial si todavía no se cargó.
func (c *Controller) Open(ctx context.Context, sessionID string) error {
	c.SetActive(sessionID)
	return c.Load(ctx, sessionID)
}

// Load trae el historial una sola vez. Lo persistido se ubica delante de las
// entradas creadas mientras tanto, sin duplicar ids ya conocidos.
func (c *Controller) Load(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	c.mu.Lock()
	sl := c.slotLocked(sessionID)
	if sl.loaded {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	history, err := c.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	c.mu.Lock()
	if c.slots[sessionID] != sl || sl.loaded {
		c.mu.Unlock()
		return nil
	}
	seen := make(map[string]struct{}, len(history))
	merged := make([]Entry, 0, len(history)+len(sl.entries))
	for _, m := range history {
		seen[m.ID] = struct{}{}
		merged = append(merged, Entry{
			LocalID:   uuid.NewString(),
			ID:        m.ID,
			Role:      m.Role,
			Text:      m.Text,
			CreatedAt: m.CreatedAt,
		})
	}
	for _, e := range sl.entries {
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				continue
			}
		}
		merged = append(merged, e)
	}
	sl.entries = merged
	sl.loaded = true
	visible := c.active == sessionID
	c.mu.Unlock()

	if visible {
		c.fire(sessionID)
	}
	return nil
}

// LoadSessions refresca el listado de sesiones del curso.
func (c *Controller) LoadSessions(ctx context.Context) ([]domain.Session, error) {
	list, err := c.sessions.ListSessions(ctx, c.courseID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	c.mu.Lock()
	c.list = append([]domain.Session(nil), list...)
	c.mu.Unlock()
	return c.Sessions(), nil
}

func (c *Controller) Sessions() []domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Session{}, c.list...)
}

// NewChat crea una sesión vacía y la activa.
func (c *Controller) NewChat(ctx context.Context, title string) (domain.Session, error) {
	s, err := c.sessions.CreateSession(ctx, c.courseID, title)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	c.mu.Lock()
	c.upsertSessionLocked(s)
	c.slotLocked(s.ID).loaded = true
	c.active = s.ID
	c.mu.Unlock()
	c.fire(s.ID)
	return s, nil
}

func (c *Controller) Rename(ctx context.Context, sessionID, title string) (domain.Session, error) {
	s, err := c.sessions.RenameSession(ctx, sessionID, title)
	if err != nil {
		return domain.Session{}, fmt.Errorf("rename session: %w", err)
	}
	c.mu.Lock()
	for i := range c.list {
		if c.list[i].ID == s.ID {
			c.list[i] = s
		}
	}
	c.mu.Unlock()
	return s, nil
}

// Delete borra la sesión en el backend y descarta su caché local.
// Una sesión con una respuesta en curso no se puede borrar.
func (c *Controller) Delete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if sl, ok := c.slots[sessionID]; ok && sl.state != StateIdle {
		c.mu.Unlock()
		return ErrSendInProgress
	}
	c.mu.Unlock()

	if err := c.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	c.mu.Lock()
	delete(c.slots, sessionID)
	for i := range c.list {
		if c.list[i].ID == sessionID {
			c.list = append(c.list[:i], c.list[i+1:]...)
			break
		}
	}
	wasActive := c.active == sessionID
	if wasActive {
		c.active = ""
	}
	c.mu.Unlock()
	return nil
}

// Transcript devuelve una copia de las entradas de la sesión.
func (c *Controller) Transcript(sessionID string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[sessionID]
	if !ok {
		return []Entry{}
	}
	return append([]Entry{}, sl.entries...)
}

func (c *Controller) State(sessionID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sl, ok := c.slots[sessionID]; ok {
		return sl.state
	}
	return StateIdle
}

// Failure devuelve la causa del último envío fallido de la sesión.
func (c *Controller) Failure(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sl, ok := c.slots[sessionID]; ok {
		return sl.failure
	}
	return nil
}

// Clear descarta todo el estado local. Los envíos en curso siguen
// persistiendo en el backend pero ya no actualizan la caché.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.active = ""
	c.list = nil
	c.slots = make(map[string]*slot)
	c.mu.Unlock()
}

// upsertSessionLocked reemplaza o agrega la sesión al frente del listado. Requiere c.mu.
func (c *Controller) upsertSessionLocked(s domain.Session) {
	for i := range c.list {
		if c.list[i].ID == s.ID {
			c.list[i] = s
			return
		}
	}
	c.list = append([]domain.Session{s}, c.list...)
}

// touchSessionLocked refleja localmente lo que el backend hace al recibir un
// mensaje: sube la sesión al frente y le asigna título si no tenía. Requiere c.mu.
func (c *Controller) touchSessionLocked(sessionID, text string) {
	for i := range c.list {
		if c.list[i].ID != sessionID {
			continue
		}
		if c.list[i].HasDefaultTitle() {
			if title := domain.DeriveTitle(text); title != "" {
				c.list[i].Title = &title
			}
		}
		c.list[i].UpdatedAt = c.now().UTC()
		break
	}
	sort.SliceStable(c.list, func(i, j int) bool {
		return c.list[i].UpdatedAt.After(c.list[j].UpdatedAt)
	})
}

// EnsureActive devuelve la sesión activa o, si no hay ninguna, resuelve la
// sesión por defecto del curso, la activa y carga su historial.
func (c *Controller) EnsureActive(ctx context.Context) (string, error) {
	if id := c.Active(); id != "" {
		return id, nil
	}
	s, err := c.sessions.GetOrCreateDefault(ctx, c.courseID)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	c.mu.Lock()
	c.upsertSessionLocked(s)
	c.slotLocked(s.ID)
	if c.active == "" {
		c.active = s.ID
	}
	c.mu.Unlock()
	if err := c.Load(ctx, s.ID); err != nil {
		return "", err
	}
	return s.ID, nil
}

// SendMessage envía la pregunta a la sesión activa (o a la sesión por defecto
// del curso) y transmite la respuesta hacia esa misma sesión aunque el usuario
// cambie de sesión mientras tanto. Bloquea hasta que la respuesta se persiste.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	sessionID, err := c.EnsureActive(ctx)
	if err != nil {
		return err
	}
	return c.SendMessageTo(ctx, sessionID, text)
}

// SendMessageTo envía la pregunta a sessionID, sea o no la sesión activa.
func (c *Controller) SendMessageTo(ctx context.Context, sessionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}

	now := c.now().UTC()
	userEntry := Entry{LocalID: uuid.NewString(), Role: domain.RoleUser, Text: text, CreatedAt: now, Pending: true}
	botEntry := Entry{LocalID: uuid.NewString(), Role: domain.RoleBot, CreatedAt: now, Pending: true}

	c.mu.Lock()
	sl := c.slotLocked(sessionID)
	if sl.state != StateIdle {
		c.mu.Unlock()
		return ErrSendInProgress
	}
	sl.state = StateSending
	sl.failure = nil
	sl.entries = append(sl.entries, userEntry, botEntry)
	c.touchSessionLocked(sessionID, text)
	c.mu.Unlock()
	c.fire(sessionID)

	log := c.logger.With(zap.String("session_id", sessionID))

	saved, err := c.messages.AppendMessage(ctx, sessionID, domain.RoleUser, text)
	if err != nil {
		log.Warn("persist question failed", zap.Error(err))
		c.abandon(sessionID, sl, userEntry.LocalID, botEntry.LocalID, err)
		return fmt.Errorf("persist question: %w", err)
	}
	c.mu.Lock()
	sl.persist(userEntry.LocalID, saved)
	c.mu.Unlock()

	answer, cause := c.consume(ctx, sessionID, sl, botEntry.LocalID, text)
	if cause != nil {
		log.Warn("answer stream failed", zap.Int("partial_len", len(answer)), zap.Error(cause))
	}
	return c.settle(ctx, sessionID, sl, botEntry.LocalID, answer, cause)
}

// consume lee el stream completo acumulando texto en el placeholder.
func (c *Controller) consume(ctx context.Context, sessionID string, sl *slot, localID, question string) (string, error) {
	frags, err := c.answers.StreamAnswer(ctx, question)
	if err != nil {
		return "", err
	}
	defer frags.Close()

	var acc strings.Builder
	for {
		frag, err := frags.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return acc.String(), err
		}
		acc.WriteString(frag)

		c.mu.Lock()
		if i := sl.indexOf(localID); i >= 0 {
			sl.entries[i].Text = acc.String()
		}
		render := false
		if c.active == sessionID && c.slots[sessionID] == sl {
			now := c.now()
			if c.renderInterval == 0 || now.Sub(sl.lastRender) >= c.renderInterval {
				sl.lastRender = now
				render = true
			}
		}
		c.mu.Unlock()
		if render {
			c.fire(sessionID)
		}
	}
	if acc.Len() == 0 {
		return "", ErrEmptyAnswer
	}
	return acc.String(), nil
}

// settle persiste la respuesta (o el texto de falla) y reemplaza el
// placeholder en su lugar. Usa un contexto independiente del llamador para
// que abandonar la vista no deje la respuesta sin guardar.
func (c *Controller) settle(ctx context.Context, sessionID string, sl *slot, localID, answer string, cause error) error {
	c.mu.Lock()
	sl.state = StateSettling
	c.mu.Unlock()

	// Solo un corte por plazo conserva el texto parcial.
	text := answer
	if text == "" || (cause != nil && !isTimeout(cause)) {
		text = FailureMessage
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settleTimeout)
	defer cancel()
	saved, perr := c.messages.AppendMessage(persistCtx, sessionID, domain.RoleBot, text)
	if perr != nil {
		c.logger.Error("persist answer failed", zap.String("session_id", sessionID), zap.Error(perr))
	}

	c.mu.Lock()
	var e *Entry
	if perr == nil {
		e = sl.persist(localID, saved)
	} else if i := sl.indexOf(localID); i >= 0 {
		e = &sl.entries[i]
	}
	if e != nil {
		e.Text = text
		e.Pending = false
		e.Failed = cause != nil || perr != nil
	}
	switch {
	case cause != nil:
		sl.failure = cause
	case perr != nil:
		sl.failure = perr
	}
	sl.state = StateIdle
	visible := c.active == sessionID && c.slots[sessionID] == sl
	c.mu.Unlock()
	if visible {
		c.fire(sessionID)
	}

	if cause != nil {
		return fmt.Errorf("answer: %w", cause)
	}
	if perr != nil {
		return fmt.Errorf("persist answer: %w", perr)
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, stream.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// abandon cierra un envío cuya pregunta no se pudo guardar; no se pide respuesta.
func (c *Controller) abandon(sessionID string, sl *slot, userLocalID, botLocalID string, cause error) {
	c.mu.Lock()
	if i := sl.indexOf(userLocalID); i >= 0 {
		sl.entries[i].Pending = false
		sl.entries[i].Failed = true
	}
	if i := sl.indexOf(botLocalID); i >= 0 {
		sl.entries[i].Text = FailureMessage
		sl.entries[i].Pending = false
		sl.entries[i].Failed = true
	}
	sl.failure = cause
	sl.state = StateIdle
	visible := c.active == sessionID && c.slots[sessionID] == sl
	c.mu.Unlock()
	if visible {
		c.fire(sessionID)
	}
}
