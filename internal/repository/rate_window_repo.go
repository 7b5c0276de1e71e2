package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creditgate/backend/internal/models"
)

type RateWindowRepo struct {
	pool *pgxpool.Pool
}

func NewRateWindowRepo(pool *pgxpool.Pool) *RateWindowRepo {
	return &RateWindowRepo{pool: pool}
}

func (r *RateWindowRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetForUpdate locks the window row so concurrent requests from the same
// (address, endpoint) pair serialize their read-modify-write.
func (r *RateWindowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, address, endpoint string) (*models.RateWindow, error) {
	var w models.RateWindow
	err := tx.QueryRow(ctx, `
		SELECT address, endpoint, request_count, window_start, last_seen, suspicious, blocked_until
		FROM rate_windows WHERE address = $1 AND endpoint = $2 FOR UPDATE
	`, address, endpoint).Scan(&w.Address, &w.Endpoint, &w.RequestCount, &w.WindowStart, &w.LastSeen, &w.Suspicious, &w.BlockedUntil)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Insert creates the first window row for a pair. A concurrent insert of
// the same pair is a no-op; the caller re-reads under lock in that case.
func (r *RateWindowRepo) Insert(ctx context.Context, tx pgx.Tx, w *models.RateWindow) (inserted bool, err error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO rate_windows (address, endpoint, request_count, window_start, last_seen, suspicious, blocked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, endpoint) DO NOTHING
	`, w.Address, w.Endpoint, w.RequestCount, w.WindowStart, w.LastSeen, w.Suspicious, w.BlockedUntil)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Update rewrites the mutable window state. Call after GetForUpdate in the
// same transaction.
func (r *RateWindowRepo) Update(ctx context.Context, tx pgx.Tx, w *models.RateWindow) error {
	_, err := tx.Exec(ctx, `
		UPDATE rate_windows
		SET request_count = $3, window_start = $4, last_seen = $5, suspicious = $6, blocked_until = $7
		WHERE address = $1 AND endpoint = $2
	`, w.Address, w.Endpoint, w.RequestCount, w.WindowStart, w.LastSeen, w.Suspicious, w.BlockedUntil)
	return err
}

// MarkSuspicious flags a pair and sets its block without touching counters.
// Used by the collector when it detects a tool signature or burst.
func (r *RateWindowRepo) MarkSuspicious(ctx context.Context, address, endpoint string, until time.Time) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rate_windows (address, endpoint, request_count, window_start, last_seen, suspicious, blocked_until)
		VALUES ($1, $2, 0, $3, $3, TRUE, $4)
		ON CONFLICT (address, endpoint)
		DO UPDATE SET suspicious = TRUE, blocked_until = $4, last_seen = $3
	`, address, endpoint, now, until)
	return err
}

// DeleteIdle prunes windows not seen since the cutoff and no longer
// blocked. Returns the number of rows removed.
func (r *RateWindowRepo) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM rate_windows
		WHERE last_seen < $1 AND (blocked_until IS NULL OR blocked_until < now())
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
