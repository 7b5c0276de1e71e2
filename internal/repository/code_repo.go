package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creditgate/backend/internal/models"
)

type CodeRepo struct {
	pool *pgxpool.Pool
}

func NewCodeRepo(pool *pgxpool.Pool) *CodeRepo {
	return &CodeRepo{pool: pool}
}

func (r *CodeRepo) Create(ctx context.Context, c *models.RedemptionCode) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO redemption_codes (id, code, credits, batch_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, c.ID, c.Code, c.Credits, c.BatchID, c.ExpiresAt).Scan(&c.CreatedAt)
}

// CreateBatch inserts a batch of codes in one transaction. Used by the
// issuance surface only; the redemption engine never creates codes.
func (r *CodeRepo) CreateBatch(ctx context.Context, codes []*models.RedemptionCode) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range codes {
		if err := tx.QueryRow(ctx, `
			INSERT INTO redemption_codes (id, code, credits, batch_id, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, c.ID, c.Code, c.Credits, c.BatchID, c.ExpiresAt).Scan(&c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *CodeRepo) GetByCode(ctx context.Context, code string) (*models.RedemptionCode, error) {
	return scanCode(r.pool.QueryRow(ctx, `
		SELECT id, code, credits, batch_id, expires_at, claimed_by, claimed_at, created_at
		FROM redemption_codes WHERE code = $1
	`, code))
}

// GetByCodeForUpdate locks the code row so concurrent claims on the same
// code serialize behind this transaction.
func (r *CodeRepo) GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.RedemptionCode, error) {
	return scanCode(tx.QueryRow(ctx, `
		SELECT id, code, credits, batch_id, expires_at, claimed_by, claimed_at, created_at
		FROM redemption_codes WHERE code = $1 FOR UPDATE
	`, code))
}

// MarkClaimed transitions the code to claimed. The claimed_at IS NULL guard
// makes the transition irreversible even if callers misuse the lock;
// pgx.ErrNoRows means the code was already claimed.
func (r *CodeRepo) MarkClaimed(ctx context.Context, tx pgx.Tx, id, accountID uuid.UUID, at time.Time) error {
	var claimedAt time.Time
	return tx.QueryRow(ctx, `
		UPDATE redemption_codes SET claimed_by = $2, claimed_at = $3
		WHERE id = $1 AND claimed_at IS NULL
		RETURNING claimed_at
	`, id, accountID, at).Scan(&claimedAt)
}

func (r *CodeRepo) ListByBatch(ctx context.Context, batchID string) ([]*models.RedemptionCode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, credits, batch_id, expires_at, claimed_by, claimed_at, created_at
		FROM redemption_codes WHERE batch_id = $1 ORDER BY created_at
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.RedemptionCode
	for rows.Next() {
		var c models.RedemptionCode
		if err := rows.Scan(&c.ID, &c.Code, &c.Credits, &c.BatchID, &c.ExpiresAt, &c.ClaimedBy, &c.ClaimedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

func scanCode(row pgx.Row) (*models.RedemptionCode, error) {
	var c models.RedemptionCode
	err := row.Scan(&c.ID, &c.Code, &c.Credits, &c.BatchID, &c.ExpiresAt, &c.ClaimedBy, &c.ClaimedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
