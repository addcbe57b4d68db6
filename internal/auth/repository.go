package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timebank/exchange/internal/models"
)

// Granter issues the one-time registration grant inside the registration
// transaction. Implemented by repository.LedgerRepo.
type Granter interface {
	GrantInitial(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
}

type Repository struct {
	pool    *pgxpool.Pool
	granter Granter
}

func NewRepository(pool *pgxpool.Pool, granter Granter) *Repository {
	return &Repository{pool: pool, granter: granter}
}

const accountColumns = "id, email, name, description, password_hash, time_credits, created_at, updated_at"

// Create inserts the account and issues the initial grant in one
// transaction, so no account ever exists without its grant.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name, description string, initialGrant int64) (*models.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		Description:  description,
		PasswordHash: passwordHash,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, description, password_hash, time_credits)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Name, a.Description, a.PasswordHash).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := r.granter.GrantInitial(ctx, tx, a.ID, initialGrant); err != nil {
		return nil, fmt.Errorf("initial grant: %w", err)
	}
	a.TimeCredits = initialGrant

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, id))
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE email = $1
	`, email))
}

func (r *Repository) scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Description, &a.PasswordHash, &a.TimeCredits, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
