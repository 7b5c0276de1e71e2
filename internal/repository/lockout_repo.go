package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creditgate/backend/internal/models"
)

type LockoutRepo struct {
	pool *pgxpool.Pool
}

func NewLockoutRepo(pool *pgxpool.Pool) *LockoutRepo {
	return &LockoutRepo{pool: pool}
}

func (r *LockoutRepo) Get(ctx context.Context, accountID uuid.UUID) (*models.Lockout, error) {
	var l models.Lockout
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, failure_count, last_address, last_failure_at, blocked_until
		FROM lockouts WHERE account_id = $1
	`, accountID).Scan(&l.AccountID, &l.FailureCount, &l.LastAddress, &l.LastFailureAt, &l.BlockedUntil)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// IncrementFailure atomically bumps the failure counter via upsert and
// returns the new count. Concurrent failures never lose an increment.
func (r *LockoutRepo) IncrementFailure(ctx context.Context, accountID uuid.UUID, address string) (count int, err error) {
	err = r.pool.QueryRow(ctx, `
		INSERT INTO lockouts (account_id, failure_count, last_address, last_failure_at)
		VALUES ($1, 1, $2, now())
		ON CONFLICT (account_id)
		DO UPDATE SET failure_count = lockouts.failure_count + 1, last_address = $2, last_failure_at = now()
		RETURNING failure_count
	`, accountID, address).Scan(&count)
	return count, err
}

// SetBlocked converts the record into a timed block.
func (r *LockoutRepo) SetBlocked(ctx context.Context, accountID uuid.UUID, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lockouts SET blocked_until = $2 WHERE account_id = $1
	`, accountID, until)
	return err
}

// Delete removes the record entirely (hard reset).
func (r *LockoutRepo) Delete(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM lockouts WHERE account_id = $1`, accountID)
	return err
}

// DeleteTx removes the record inside the caller's transaction. The
// redemption engine uses this so a successful claim and the lockout clear
// commit together.
func (r *LockoutRepo) DeleteTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM lockouts WHERE account_id = $1`, accountID)
	return err
}

// SoftReset zeroes the counter and clears the block while preserving the
// row and its last-failure history.
func (r *LockoutRepo) SoftReset(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lockouts SET failure_count = 0, blocked_until = NULL WHERE account_id = $1
	`, accountID)
	return err
}
