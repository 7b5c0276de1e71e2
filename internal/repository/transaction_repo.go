package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creditgate/backend/internal/models"
)

// TransactionRepo writes and reads the append-only transaction log.
// There is intentionally no update or delete method.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx appends a log entry inside the given transaction, so the entry
// commits or rolls back together with the balance change it records.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.TransactionLogEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transaction_log (id, account_id, delta, reason, balance_after)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Delta, e.Reason, e.BalanceAfter).Scan(&e.CreatedAt)
}

// ListByAccountID returns up to limit entries for the account, newest first.
func (r *TransactionRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.TransactionLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, delta, reason, balance_after, created_at
		FROM transaction_log WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TransactionLogEntry
	for rows.Next() {
		var e models.TransactionLogEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// SumDeltas returns the sum of all deltas for the account. Used by
// integrity checks; must always equal accounts.balance.
func (r *TransactionRepo) SumDeltas(ctx context.Context, accountID uuid.UUID) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM transaction_log WHERE account_id = $1
	`, accountID).Scan(&total)
	return total, err
}
