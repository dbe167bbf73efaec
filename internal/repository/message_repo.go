package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"course-chat/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListBySessionID(ctx context.Context, sessionID string) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	if !isUUID(message.SessionID) {
		return domain.ErrNotFound
	}
	const query = `
		INSERT INTO chat_messages (id, session_id, role, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.SessionID,
		string(message.Role),
		message.Text,
		message.CreatedAt,
	)
	return mapError(err)
}

// ListBySessionID devuelve el historial en orden de creación; seq desempata
// mensajes con el mismo created_at.
func (r *PgMessageRepository) ListBySessionID(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if !isUUID(sessionID) {
		return []domain.Message{}, nil
	}
	const query = `
		SELECT id::text, session_id::text, role, message, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		var role string
		err = rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&role,
			&msg.Text,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, mapError(err)
		}
		msg.Role = domain.Role(role)
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return messages, nil
}
