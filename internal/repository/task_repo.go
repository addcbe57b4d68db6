package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timebank/exchange/internal/models"
)

const taskColumns = "id, title, description, requester_id, acceptor_id, credit_offer, state, version, cancelled_reason, created_at, updated_at"

// TaskFilter narrows List. Nil/empty fields match everything.
type TaskFilter struct {
	State       string
	RequesterID *uuid.UUID
	AcceptorID  *uuid.UUID
}

// TaskMutation is the write half of a compare-and-transition. State is
// always written; the remaining fields apply only when set. ClearAcceptor
// wins over AcceptorID.
type TaskMutation struct {
	State           string
	AcceptorID      *uuid.UUID
	ClearAcceptor   bool
	Title           *string
	Description     *string
	CreditOffer     *int64
	CancelledReason *string
}

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, title, description, requester_id, acceptor_id, credit_offer, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version, created_at, updated_at
	`, t.ID, t.Title, t.Description, t.RequesterID, t.AcceptorID, t.CreditOffer, t.State).Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	err := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.RequesterID, &t.AcceptorID, &t.CreditOffer, &t.State, &t.Version, &t.CancelledReason, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) List(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	var where []string
	if f.State != "" {
		args = append(args, f.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.RequesterID != nil {
		args = append(args, *f.RequesterID)
		where = append(where, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if f.AcceptorID != nil {
		args = append(args, *f.AcceptorID)
		where = append(where, fmt.Sprintf("acceptor_id = $%d", len(args)))
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.RequesterID, &t.AcceptorID, &t.CreditOffer, &t.State, &t.Version, &t.CancelledReason, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// CompareAndTransition atomically applies mut if and only if the task still
// has the expected version and state. Exactly one caller wins a race on the
// same expected version; losers get ErrConflict. The version is bumped on
// every successful write.
func (r *TaskRepo) CompareAndTransition(ctx context.Context, id uuid.UUID, expectedVersion int64, expectedState string, mut TaskMutation) (*models.Task, error) {
	var t models.Task
	err := r.pool.QueryRow(ctx, `
		UPDATE tasks SET
			state = $4,
			acceptor_id = CASE WHEN $5 THEN NULL ELSE COALESCE($6, acceptor_id) END,
			title = COALESCE($7, title),
			description = COALESCE($8, description),
			credit_offer = COALESCE($9, credit_offer),
			cancelled_reason = COALESCE($10, cancelled_reason),
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2 AND state = $3
		RETURNING `+taskColumns+`
	`, id, expectedVersion, expectedState, mut.State, mut.ClearAcceptor, mut.AcceptorID, mut.Title, mut.Description, mut.CreditOffer, mut.CancelledReason).
		Scan(&t.ID, &t.Title, &t.Description, &t.RequesterID, &t.AcceptorID, &t.CreditOffer, &t.State, &t.Version, &t.CancelledReason, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s at version %d: %w", id, expectedVersion, ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
