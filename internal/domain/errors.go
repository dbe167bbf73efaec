package domain

import "errors"

// Taxonomía de errores compartida por servidor y cliente.
// Se envuelven con fmt.Errorf("%w: ...") y se clasifican con errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrGateway      = errors.New("gateway error")
	ErrStorage      = errors.New("storage error")
	ErrRateLimited  = errors.New("rate limited")
)
