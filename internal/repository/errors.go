package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a compare-and-transition loses the
	// version race. The caller should re-read and decide.
	ErrConflict = errors.New("version conflict")

	// ErrInsufficientBalance is returned when a transfer would take the
	// payer below zero. Nothing is mutated.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
