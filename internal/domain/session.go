package domain

import "time"

// DefaultSessionTitle es el título centinela de una sesión que aún no fue renombrada.
const DefaultSessionTitle = "New Chat"

// Session es un hilo de conversación de un usuario dentro de un curso.
// Title nil equivale a DefaultSessionTitle.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CourseID  string    `json:"course_id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDefaultTitle indica si la sesión todavía es candidata al auto-titulado.
func (s Session) HasDefaultTitle() bool {
	return s.Title == nil || *s.Title == DefaultSessionTitle
}

func (s Session) DisplayTitle() string {
	if s.Title == nil || *s.Title == "" {
		return DefaultSessionTitle
	}
	return *s.Title
}
