package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timebank/exchange/internal/models"
)

const transferColumns = "idempotency_key, task_id, entry_type, from_user_id, to_user_id, amount, applied_at"

// OnApplyFunc runs inside the transfer transaction after a new task transfer
// has been inserted. Main wires this to a River InsertTx so the completion
// finalizer job commits atomically with the ledger movement.
type OnApplyFunc func(ctx context.Context, tx pgx.Tx, t *models.Transfer) error

// DB is the pool surface the ledger store uses, satisfied by *pgxpool.Pool.
// Abstracted so tests can script transactions without a real pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// LedgerRepo owns account balances and the transfer log.
type LedgerRepo struct {
	pool DB

	mu      sync.Mutex
	onApply OnApplyFunc
}

func NewLedgerRepo(pool DB) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// SetOnApply installs the hook invoked when a new task transfer is applied.
// Set once during startup, after the River client exists.
func (r *LedgerRepo) SetOnApply(fn OnApplyFunc) {
	r.mu.Lock()
	r.onApply = fn
	r.mu.Unlock()
}

func (r *LedgerRepo) applyHook(ctx context.Context, tx pgx.Tx, t *models.Transfer) error {
	r.mu.Lock()
	fn := r.onApply
	r.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, tx, t)
}

// Exists reports whether an account with the given id is registered.
func (r *LedgerRepo) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// GetBalance returns the account's current time credits.
func (r *LedgerRepo) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT time_credits FROM accounts WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	return balance, err
}

// GrantInitial issues the one-time registration grant inside the caller's
// transaction. The grant idempotency key guarantees at most one grant per
// user no matter how often registration is retried.
func (r *LedgerRepo) GrantInitial(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO transfers (idempotency_key, entry_type, to_user_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, models.GrantKey(userID), models.TransferEntryInitialGrant, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE accounts SET time_credits = time_credits + $1, updated_at = now() WHERE id = $2
	`, amount, userID)
	return err
}

// GetTransferByKey returns the transfer for the given idempotency key.
func (r *LedgerRepo) GetTransferByKey(ctx context.Context, key string) (*models.Transfer, error) {
	return scanTransferRow(r.pool.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1
	`, key), key)
}

// ListTransfersByUser returns transfers the user paid or received, newest first.
func (r *LedgerRepo) ListTransfersByUser(ctx context.Context, userID uuid.UUID) ([]*models.Transfer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY applied_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transfer
	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.IdempotencyKey, &t.TaskID, &t.EntryType, &t.FromUserID, &t.ToUserID, &t.Amount, &t.AppliedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// Transfer moves amount from one account to another exactly once per
// idempotency key. It returns the transfer record and whether this call
// applied it (false means a previous call already had).
//
// Within one transaction it: checks the key, locks both account rows in
// deterministic UUID order, checks the key again (a racing same-key caller
// may have committed while we waited on the locks), conditionally deducts
// the payer (balance must cover the amount), credits the payee, inserts the
// transfer row, and runs the on-apply hook. No intermediate negative balance
// is ever visible.
func (r *LedgerRepo) Transfer(ctx context.Context, key string, taskID, fromUserID, toUserID uuid.UUID, amount int64) (*models.Transfer, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	existing, err := scanTransferRowErr(tx.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1
	`, key))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	// Lock both accounts in deterministic order so concurrent transfers
	// touching the same pair cannot deadlock.
	ids := []uuid.UUID{fromUserID, toUserID}
	if ids[1].String() < ids[0].String() {
		ids[0], ids[1] = ids[1], ids[0]
	}
	for _, id := range ids {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, fmt.Errorf("account %s: %w", id, ErrNotFound)
			}
			return nil, false, err
		}
	}

	// The key check above ran before the row locks. A same-key transfer
	// that committed while this transaction waited on the locks becomes
	// visible only now, so look again before reading balances. Otherwise
	// the loser of a completion race would misread the already-debited
	// payer balance as insufficient.
	existing, err = scanTransferRowErr(tx.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1
	`, key))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET time_credits = time_credits - $1, updated_at = now()
		WHERE id = $2 AND time_credits >= $1
	`, amount, fromUserID)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		return nil, false, fmt.Errorf("account %s cannot cover %d: %w", fromUserID, amount, ErrInsufficientBalance)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET time_credits = time_credits + $1, updated_at = now() WHERE id = $2
	`, amount, toUserID); err != nil {
		return nil, false, err
	}

	t := &models.Transfer{
		IdempotencyKey: key,
		TaskID:         &taskID,
		EntryType:      models.TransferEntryTaskTransfer,
		FromUserID:     &fromUserID,
		ToUserID:       toUserID,
		Amount:         amount,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transfers (idempotency_key, task_id, entry_type, from_user_id, to_user_id, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING applied_at
	`, t.IdempotencyKey, t.TaskID, t.EntryType, t.FromUserID, t.ToUserID, t.Amount).Scan(&t.AppliedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// A concurrent caller with the same key won the insert.
			// Abandon this transaction and observe theirs.
			_ = tx.Rollback(ctx)
			applied, getErr := r.GetTransferByKey(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			return applied, false, nil
		}
		return nil, false, err
	}

	if err := r.applyHook(ctx, tx, t); err != nil {
		return nil, false, fmt.Errorf("transfer apply hook: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func scanTransferRow(row pgx.Row, key string) (*models.Transfer, error) {
	t, err := scanTransferRowErr(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", key, ErrNotFound)
	}
	return t, err
}

func scanTransferRowErr(row pgx.Row) (*models.Transfer, error) {
	var t models.Transfer
	if err := row.Scan(&t.IdempotencyKey, &t.TaskID, &t.EntryType, &t.FromUserID, &t.ToUserID, &t.Amount, &t.AppliedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
