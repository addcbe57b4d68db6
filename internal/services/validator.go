package services

import (
	"context"

	"github.com/google/uuid"
)

// AccountLookup is the read-only ledger query the validator needs.
type AccountLookup interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Validator resolves user identifiers against the ledger's account records
// so operations referencing unknown users are rejected early. It holds no
// state of its own.
type Validator struct {
	accounts AccountLookup
}

func NewValidator(accounts AccountLookup) *Validator {
	return &Validator{accounts: accounts}
}

func (v *Validator) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	return v.accounts.Exists(ctx, userID)
}
