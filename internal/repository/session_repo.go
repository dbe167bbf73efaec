package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"course-chat/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	CreateDefault(ctx context.Context, session domain.Session) (domain.Session, error)
	GetByID(ctx context.Context, id string) (domain.Session, error)
	LatestByUserCourse(ctx context.Context, userID, courseID string) (domain.Session, error)
	ListByUserCourse(ctx context.Context, userID, courseID string) ([]domain.Session, error)
	UpdateTitle(ctx context.Context, id, title string, at time.Time) (domain.Session, error)
	SetTitleIfDefault(ctx context.Context, id, title string) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

const sessionColumns = `id::text, user_id, course_id, title, created_at, updated_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.CourseID,
		&s.Title,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return domain.Session{}, mapError(err)
	}
	return s, nil
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO chat_sessions (id, user_id, course_id, title, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.CourseID,
		session.Title,
		session.CreatedAt,
		session.UpdatedAt,
	)
	return mapError(err)
}

// CreateDefault inserta la sesión implícita del par (usuario, curso). Si otra
// petición ganó la carrera, devuelve la fila existente.
func (r *PgSessionRepository) CreateDefault(ctx context.Context, session domain.Session) (domain.Session, error) {
	const insert = `
		INSERT INTO chat_sessions (id, user_id, course_id, title, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, $5, $6)
		ON CONFLICT (user_id, course_id) WHERE is_default DO NOTHING
		RETURNING ` + sessionColumns
	created, err := scanSession(r.pool.QueryRow(ctx, insert,
		session.ID,
		session.UserID,
		session.CourseID,
		session.Title,
		session.CreatedAt,
		session.UpdatedAt,
	))
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return created, err
	}

	const existing = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1 AND course_id = $2 AND is_default
	`
	return scanSession(r.pool.QueryRow(ctx, existing, session.UserID, session.CourseID))
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	if !isUUID(id) {
		return domain.Session{}, domain.ErrNotFound
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE id = $1
	`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

// LatestByUserCourse devuelve la sesión con actividad más reciente. Si existen
// duplicados heredados gana la más reciente.
func (r *PgSessionRepository) LatestByUserCourse(ctx context.Context, userID, courseID string) (domain.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1 AND course_id = $2
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1
	`
	return scanSession(r.pool.QueryRow(ctx, query, userID, courseID))
}

func (r *PgSessionRepository) ListByUserCourse(ctx context.Context, userID, courseID string) ([]domain.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1 AND course_id = $2
		ORDER BY updated_at DESC, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, courseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

func (r *PgSessionRepository) UpdateTitle(ctx context.Context, id, title string, at time.Time) (domain.Session, error) {
	if !isUUID(id) {
		return domain.Session{}, domain.ErrNotFound
	}
	const query = `
		UPDATE chat_sessions
		SET title = $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, query, id, title, at))
}

// SetTitleIfDefault aplica el título derivado solo mientras la sesión conserve
// el título por defecto. Devuelve true si la fila cambió.
func (r *PgSessionRepository) SetTitleIfDefault(ctx context.Context, id, title string) (bool, error) {
	if !isUUID(id) {
		return false, domain.ErrNotFound
	}
	const query = `
		UPDATE chat_sessions
		SET title = $2, updated_at = GREATEST(updated_at, now())
		WHERE id = $1 AND (title IS NULL OR title = $3)
	`
	tag, err := r.pool.Exec(ctx, query, id, title, domain.DefaultSessionTitle)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if !isUUID(id) {
		return domain.ErrNotFound
	}
	// updated_at nunca retrocede: un Rename concurrente puede haber escrito una marca posterior.
	const query = `UPDATE chat_sessions SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete borra los mensajes y la sesión en una sola transacción.
func (r *PgSessionRepository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return domain.ErrNotFound
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, id); err != nil {
		return mapError(err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return mapError(tx.Commit(ctx))
}
