package models

import (
	"time"

	"github.com/google/uuid"
)

// Transfer entry_type values.
const (
	TransferEntryTaskTransfer = "task_transfer"
	TransferEntryInitialGrant = "initial_grant"
)

// Transfer is a ledger movement. Exactly one row exists per idempotency key,
// which is what makes retried completions safe. FromUserID is nil for the
// registration grant.
type Transfer struct {
	IdempotencyKey string     `json:"idempotency_key"`
	TaskID         *uuid.UUID `json:"task_id,omitempty"`
	EntryType      string     `json:"entry_type"`
	FromUserID     *uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID       uuid.UUID  `json:"to_user_id"`
	Amount         int64      `json:"amount"`
	AppliedAt      time.Time  `json:"applied_at"`
}

// GrantKey is the idempotency key for a user's one-time registration grant.
func GrantKey(userID uuid.UUID) string { return "grant:" + userID.String() }

// TransferKey is the idempotency key for a task's completion transfer.
// A task completes at most once, so the task id itself is the key.
func TransferKey(taskID uuid.UUID) string { return taskID.String() }
