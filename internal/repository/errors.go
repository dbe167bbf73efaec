package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"course-chat/internal/domain"
)

const (
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// mapError traduce errores de pgx a la taxonomía del dominio.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation, pgInvalidText:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}

// isUUID filtra ids que nunca podrían existir antes de llegar a la base.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
