package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/timebank/exchange/internal/models"
	"github.com/timebank/exchange/internal/repository"
)

// completeRetries bounds how often Complete re-attempts the task CAS after
// the transfer has been applied. The finalizer job heals anything beyond it.
const completeRetries = 3

// TaskStore is the task persistence interface the coordinator needs.
type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, f repository.TaskFilter) ([]*models.Task, error)
	CompareAndTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, expectedState string, mut repository.TaskMutation) (*models.Task, error)
}

// LedgerStore is the ledger interface the coordinator needs for completion.
type LedgerStore interface {
	Transfer(ctx context.Context, key string, taskID, fromUserID, toUserID uuid.UUID, amount int64) (*models.Transfer, bool, error)
}

// UserValidator resolves user identifiers.
type UserValidator interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// UpdateFields are the mutable task fields; nil fields are left unchanged.
// Only legal while the task is open.
type UpdateFields struct {
	Title       *string
	Description *string
	CreditOffer *int64
}

// LifecycleService orchestrates every task state transition and couples the
// completion transition to the ledger transfer. All cross-request safety
// lives in the stores' atomic primitives; the coordinator itself holds no
// locks.
type LifecycleService struct {
	tasks     TaskStore
	ledger    LedgerStore
	validator UserValidator
	log       *slog.Logger
}

func NewLifecycleService(tasks TaskStore, ledger LedgerStore, validator UserValidator, log *slog.Logger) *LifecycleService {
	if log == nil {
		log = slog.Default()
	}
	return &LifecycleService{tasks: tasks, ledger: ledger, validator: validator, log: log}
}

// Create makes a new open task backed by a positive credit offer.
func (s *LifecycleService) Create(ctx context.Context, requesterID uuid.UUID, title, description string, creditOffer int64) (*models.Task, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if creditOffer <= 0 {
		return nil, fmt.Errorf("%w: credit_offer must be > 0, got %d", ErrInvalidInput, creditOffer)
	}
	if err := s.requireUser(ctx, requesterID); err != nil {
		return nil, err
	}
	t := &models.Task{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		RequesterID: requesterID,
		CreditOffer: creditOffer,
		State:       models.TaskStateOpen,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, translate(err)
	}
	s.log.Info("task created", "task_id", t.ID, "requester_id", requesterID, "credit_offer", creditOffer)
	return t, nil
}

// Get returns the task by id.
func (s *LifecycleService) Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, err := s.tasks.GetByID(ctx, taskID)
	return t, translate(err)
}

// List returns tasks matching the filter.
func (s *LifecycleService) List(ctx context.Context, f repository.TaskFilter) ([]*models.Task, error) {
	return s.tasks.List(ctx, f)
}

// Update mutates the mutable fields of an open task. Only the requester may
// update, and only while the task is open.
func (s *LifecycleService) Update(ctx context.Context, taskID, requesterID uuid.UUID, fields UpdateFields) (*models.Task, error) {
	if fields.CreditOffer != nil && *fields.CreditOffer <= 0 {
		return nil, fmt.Errorf("%w: credit_offer must be > 0, got %d", ErrInvalidInput, *fields.CreditOffer)
	}
	if fields.Title != nil && *fields.Title == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, translate(err)
	}
	if t.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: only the requester may update the task", ErrForbidden)
	}
	if t.State != models.TaskStateOpen {
		return nil, fmt.Errorf("%w: task is %s, updates are only legal while open", ErrInvalidState, t.State)
	}
	updated, err := s.tasks.CompareAndTransition(ctx, taskID, t.Version, models.TaskStateOpen, repository.TaskMutation{
		State:       models.TaskStateOpen,
		Title:       fields.Title,
		Description: fields.Description,
		CreditOffer: fields.CreditOffer,
	})
	return updated, translate(err)
}

// Accept claims an open task for the acceptor: open -> pending. Exactly one
// concurrent acceptor wins; losers get ErrConflict and should treat the task
// as already taken.
func (s *LifecycleService) Accept(ctx context.Context, taskID, acceptorID uuid.UUID) (*models.Task, error) {
	if err := s.requireUser(ctx, acceptorID); err != nil {
		return nil, err
	}
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, translate(err)
	}
	if t.State != models.TaskStateOpen {
		return nil, fmt.Errorf("%w: task is %s, only open tasks can be accepted", ErrInvalidState, t.State)
	}
	updated, err := s.tasks.CompareAndTransition(ctx, taskID, t.Version, models.TaskStateOpen, repository.TaskMutation{
		State:      models.TaskStatePending,
		AcceptorID: &acceptorID,
	})
	if err != nil {
		return nil, translate(err)
	}
	s.log.Info("task accepted", "task_id", taskID, "acceptor_id", acceptorID)
	return updated, nil
}

// Start moves an accepted task to in_progress: pending -> in_progress.
// Only the acceptor may start.
func (s *LifecycleService) Start(ctx context.Context, taskID, actorID uuid.UUID) (*models.Task, error) {
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, translate(err)
	}
	if t.State != models.TaskStatePending {
		return nil, fmt.Errorf("%w: task is %s, only pending tasks can be started", ErrInvalidState, t.State)
	}
	if t.AcceptorID == nil || *t.AcceptorID != actorID {
		return nil, fmt.Errorf("%w: only the acceptor may start the task", ErrForbidden)
	}
	updated, err := s.tasks.CompareAndTransition(ctx, taskID, t.Version, models.TaskStatePending, repository.TaskMutation{
		State: models.TaskStateInProgress,
	})
	if err != nil {
		return nil, translate(err)
	}
	s.log.Info("task started", "task_id", taskID, "actor_id", actorID)
	return updated, nil
}

// Complete finishes an in_progress task and moves the credit offer from
// requester to acceptor: ledger transfer first (keyed by the task id, so
// retries apply it at most once), task state second. If the requester's
// balance cannot cover the offer the task stays in_progress and nothing is
// mutated. A repeated Complete by the acceptor on an already completed task
// observes the applied result instead of an error.
func (s *LifecycleService) Complete(ctx context.Context, taskID, actorID uuid.UUID) (*models.Task, error) {
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, translate(err)
	}
	if t.State == models.TaskStateCompleted {
		if t.AcceptorID != nil && *t.AcceptorID == actorID {
			return t, nil
		}
		return nil, fmt.Errorf("%w: only the acceptor may complete the task", ErrForbidden)
	}
	if t.State != models.TaskStateInProgress {
		return nil, fmt.Errorf("%w: task is %s, only in_progress tasks can be completed", ErrInvalidState, t.State)
	}
	if t.AcceptorID == nil || *t.AcceptorID != actorID {
		return nil, fmt.Errorf("%w: only the acceptor may complete the task", ErrForbidden)
	}

	transfer, applied, err := s.ledger.Transfer(ctx, models.TransferKey(taskID), taskID, t.RequesterID, *t.AcceptorID, t.CreditOffer)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: requester balance does not cover %d", ErrInsufficientBalance, t.CreditOffer)
		}
		return nil, translate(err)
	}
	if applied {
		s.log.Info("completion transfer applied", "task_id", taskID,
			"from_user_id", transfer.FromUserID, "to_user_id", transfer.ToUserID, "amount", transfer.Amount)
	}

	// The transfer is durable; the CAS below can be retried freely without
	// moving credits again.
	version, state := t.Version, t.State
	for i := 0; i < completeRetries; i++ {
		updated, err := s.tasks.CompareAndTransition(ctx, taskID, version, state, repository.TaskMutation{
			State: models.TaskStateCompleted,
		})
		if err == nil {
			s.log.Info("task completed", "task_id", taskID, "actor_id", actorID)
			return updated, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, translate(err)
		}
		t, rerr := s.tasks.GetByID(ctx, taskID)
		if rerr != nil {
			return nil, translate(rerr)
		}
		if t.State == models.TaskStateCompleted {
			return t, nil
		}
		if t.State != models.TaskStateInProgress {
			// Interference the state machine does not allow; surface it.
			return nil, fmt.Errorf("%w: task in unexpected state %s after transfer", ErrConflict, t.State)
		}
		version, state = t.Version, t.State
	}
	// The finalizer job enqueued with the transfer will finish the
	// transition; the caller can also simply retry.
	return nil, fmt.Errorf("%w: completion transfer applied, state transition contended", ErrConflict)
}

// Cancel withdraws an open or pending task: {open, pending} -> cancelled.
// Only the requester may cancel. Cancelling a pending task releases the
// acceptor so the terminal record carries no claim.
func (s *LifecycleService) Cancel(ctx context.Context, taskID, actorID uuid.UUID, reason *string) (*models.Task, error) {
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, translate(err)
	}
	if t.RequesterID != actorID {
		return nil, fmt.Errorf("%w: only the requester may cancel the task", ErrForbidden)
	}
	if t.State != models.TaskStateOpen && t.State != models.TaskStatePending {
		return nil, fmt.Errorf("%w: task is %s, only open or pending tasks can be cancelled", ErrInvalidState, t.State)
	}
	updated, err := s.tasks.CompareAndTransition(ctx, taskID, t.Version, t.State, repository.TaskMutation{
		State:           models.TaskStateCancelled,
		ClearAcceptor:   true,
		CancelledReason: reason,
	})
	if err != nil {
		return nil, translate(err)
	}
	s.log.Info("task cancelled", "task_id", taskID, "actor_id", actorID)
	return updated, nil
}

func (s *LifecycleService) requireUser(ctx context.Context, userID uuid.UUID) error {
	ok, err := s.validator.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve user %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return nil
}

// translate maps store errors onto the coordinator taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	default:
		return err
	}
}
