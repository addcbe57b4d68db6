package models

import (
	"time"

	"github.com/google/uuid"
)

// Task lifecycle states. Terminal states are completed and cancelled;
// no transition leaves them.
const (
	TaskStateOpen       = "open"
	TaskStatePending    = "pending"
	TaskStateInProgress = "in_progress"
	TaskStateCompleted  = "completed"
	TaskStateCancelled  = "cancelled"
)

type Task struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	RequesterID     uuid.UUID  `json:"requester_id"`
	AcceptorID      *uuid.UUID `json:"acceptor_id,omitempty"`
	CreditOffer     int64      `json:"credit_offer"`
	State           string     `json:"state"`
	Version         int64      `json:"version"`
	CancelledReason *string    `json:"cancelled_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ValidState reports whether s is one of the five lifecycle states.
func ValidState(s string) bool {
	switch s {
	case TaskStateOpen, TaskStatePending, TaskStateInProgress, TaskStateCompleted, TaskStateCancelled:
		return true
	}
	return false
}
