package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
)
