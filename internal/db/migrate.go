package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the complete fixed schema. It runs once at deployment inside a
// single transaction; no DDL ever runs at request time.
const schema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS accounts (
    id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email          TEXT NOT NULL UNIQUE,
    name           TEXT NOT NULL DEFAULT '',
    password_hash  TEXT NOT NULL,
    role           TEXT NOT NULL DEFAULT 'standard' CHECK (role IN ('standard', 'admin')),
    balance        INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    is_active      BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS redemption_codes (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    code        TEXT NOT NULL UNIQUE,
    credits     INTEGER NOT NULL CHECK (credits > 0),
    batch_id    TEXT NOT NULL DEFAULT '',
    expires_at  TIMESTAMPTZ,
    claimed_by  UUID REFERENCES accounts(id),
    claimed_at  TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transaction_log (
    id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    account_id     UUID NOT NULL REFERENCES accounts(id),
    delta          INTEGER NOT NULL,
    reason         TEXT NOT NULL,
    balance_after  INTEGER NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transaction_log_account
    ON transaction_log (account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS rate_windows (
    address        TEXT NOT NULL,
    endpoint       TEXT NOT NULL,
    request_count  INTEGER NOT NULL DEFAULT 0,
    window_start   TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_seen      TIMESTAMPTZ NOT NULL DEFAULT now(),
    suspicious     BOOLEAN NOT NULL DEFAULT FALSE,
    blocked_until  TIMESTAMPTZ,
    PRIMARY KEY (address, endpoint)
);

CREATE TABLE IF NOT EXISTS lockouts (
    account_id       UUID PRIMARY KEY REFERENCES accounts(id),
    failure_count    INTEGER NOT NULL DEFAULT 0,
    last_address     TEXT NOT NULL DEFAULT '',
    last_failure_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    blocked_until    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS frequency_traces (
    id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    address           TEXT NOT NULL,
    endpoint          TEXT NOT NULL,
    client_signature  TEXT NOT NULL DEFAULT '',
    blocked           BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_frequency_traces_pair
    ON frequency_traces (address, endpoint, created_at DESC);
`

// Migrate applies the fixed schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return tx.Commit(ctx)
}
