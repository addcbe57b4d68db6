package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied at startup. Statements are idempotent so restarts are safe.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	time_credits  BIGINT NOT NULL DEFAULT 0 CHECK (time_credits >= 0),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id               UUID PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	requester_id     UUID NOT NULL REFERENCES accounts(id),
	acceptor_id      UUID REFERENCES accounts(id),
	credit_offer     BIGINT NOT NULL CHECK (credit_offer > 0),
	state            TEXT NOT NULL,
	version          BIGINT NOT NULL DEFAULT 1,
	cancelled_reason TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_requester ON tasks(requester_id);
CREATE INDEX IF NOT EXISTS idx_tasks_acceptor ON tasks(acceptor_id);

CREATE TABLE IF NOT EXISTS transfers (
	idempotency_key TEXT PRIMARY KEY,
	task_id         UUID REFERENCES tasks(id),
	entry_type      TEXT NOT NULL,
	from_user_id    UUID REFERENCES accounts(id),
	to_user_id      UUID NOT NULL REFERENCES accounts(id),
	amount          BIGINT NOT NULL CHECK (amount > 0),
	applied_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transfers_to_user ON transfers(to_user_id);
CREATE INDEX IF NOT EXISTS idx_transfers_from_user ON transfers(from_user_id);
`

// Migrate applies the schema to the given pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
