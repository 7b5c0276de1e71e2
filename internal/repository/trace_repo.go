package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creditgate/backend/internal/models"
)

type TraceRepo struct {
	pool *pgxpool.Pool
}

func NewTraceRepo(pool *pgxpool.Pool) *TraceRepo {
	return &TraceRepo{pool: pool}
}

func (r *TraceRepo) Insert(ctx context.Context, t *models.FrequencyTrace) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO frequency_traces (id, address, endpoint, client_signature)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, t.ID, t.Address, t.Endpoint, t.ClientSignature).Scan(&t.CreatedAt)
}

// CountSince returns how many traces exist for the pair since the cutoff.
func (r *TraceRepo) CountSince(ctx context.Context, address, endpoint string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM frequency_traces
		WHERE address = $1 AND endpoint = $2 AND created_at >= $3
	`, address, endpoint, since).Scan(&n)
	return n, err
}

// MarkBlockedSince retroactively flags recent traces for the pair, so
// reporting can see which requests fell inside a detected burst.
func (r *TraceRepo) MarkBlockedSince(ctx context.Context, address, endpoint string, since time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE frequency_traces SET blocked = TRUE
		WHERE address = $1 AND endpoint = $2 AND created_at >= $3
	`, address, endpoint, since)
	return err
}

// DeleteOlderThan prunes expired traces. Returns the number removed.
func (r *TraceRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM frequency_traces WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
