package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/timebank/exchange/internal/models"
	"github.com/timebank/exchange/internal/repository"
)

// FinalizeCompletionArgs is enqueued in the same transaction as the
// completion transfer. If the API process dies between committing the
// transfer and flipping the task to completed, this job closes the gap.
type FinalizeCompletionArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (FinalizeCompletionArgs) Kind() string { return "finalize_completion" }

// TaskStore is the task access the finalizer needs.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	CompareAndTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, expectedState string, mut repository.TaskMutation) (*models.Task, error)
}

// TransferStore looks up the applied transfer for a task.
type TransferStore interface {
	GetTransferByKey(ctx context.Context, key string) (*models.Transfer, error)
}

type FinalizeWorker struct {
	river.WorkerDefaults[FinalizeCompletionArgs]
	tasks     TaskStore
	transfers TransferStore
	log       *slog.Logger
}

func NewFinalizeWorker(tasks TaskStore, transfers TransferStore, log *slog.Logger) *FinalizeWorker {
	if log == nil {
		log = slog.Default()
	}
	return &FinalizeWorker{tasks: tasks, transfers: transfers, log: log}
}

func (w *FinalizeWorker) Work(ctx context.Context, job *river.Job[FinalizeCompletionArgs]) error {
	taskID := job.Args.TaskID

	task, err := w.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", taskID, err)
	}
	if task.State == models.TaskStateCompleted {
		return nil
	}
	if task.State != models.TaskStateInProgress {
		// The job only exists because a transfer committed, and transfers
		// only happen out of in_progress. Anything else is worth a record.
		w.log.Warn("finalize job found task in unexpected state", "task_id", taskID, "state", task.State)
		return nil
	}

	if _, err := w.transfers.GetTransferByKey(ctx, models.TransferKey(taskID)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Job committed with the transfer, so this cannot happen unless
			// the ledger lost data. Fail loudly and let River retry.
			return fmt.Errorf("finalize %s: transfer record missing", taskID)
		}
		return err
	}

	if _, err := w.tasks.CompareAndTransition(ctx, taskID, task.Version, models.TaskStateInProgress, repository.TaskMutation{
		State: models.TaskStateCompleted,
	}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Someone moved the task; re-run and re-check.
			return fmt.Errorf("finalize %s: %w", taskID, err)
		}
		return err
	}
	w.log.Info("completion finalized", "task_id", taskID)
	return nil
}
