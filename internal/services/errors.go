package services

import "errors"

// Error taxonomy surfaced by the lifecycle coordinator. Handlers map these
// to HTTP status codes; everything else is treated as internal.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnknownUser         = errors.New("unknown user")
	ErrNotFound            = errors.New("task not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidState        = errors.New("invalid state for transition")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
