package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultInitialGrant is the number of time credits issued once at
// registration (override with INITIAL_GRANT).
const DefaultInitialGrant = 10

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PasswordHash string    `json:"-"`
	TimeCredits  int64     `json:"time_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
