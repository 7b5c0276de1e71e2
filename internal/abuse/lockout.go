package abuse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creditgate/backend/internal/models"
)

// LockoutStore is the minimal lockout-record interface for the machine.
type LockoutStore interface {
	Get(ctx context.Context, accountID uuid.UUID) (*models.Lockout, error)
	IncrementFailure(ctx context.Context, accountID uuid.UUID, address string) (count int, err error)
	SetBlocked(ctx context.Context, accountID uuid.UUID, until time.Time) error
	Delete(ctx context.Context, accountID uuid.UUID) error
	SoftReset(ctx context.Context, accountID uuid.UUID) error
}

// Lockout is the account-keyed failure counter. Reaching Threshold
// consecutive failed redemption attempts converts the record into a timed
// block; any successful redemption clears it.
type Lockout struct {
	Store     LockoutStore
	Threshold int
	Duration  time.Duration

	now func() time.Time
}

func NewLockout(store LockoutStore, threshold int, duration time.Duration) *Lockout {
	return &Lockout{Store: store, Threshold: threshold, Duration: duration, now: time.Now}
}

// RecordFailure counts one failed redemption attempt. The address is
// recorded for audit; the counter itself is keyed by account only.
func (l *Lockout) RecordFailure(ctx context.Context, accountID uuid.UUID, address string) error {
	count, err := l.Store.IncrementFailure(ctx, accountID, address)
	if err != nil {
		return err
	}
	if count >= l.Threshold {
		return l.Store.SetBlocked(ctx, accountID, l.now().UTC().Add(l.Duration))
	}
	return nil
}

// Check reports whether the account is currently locked out. A missing
// record, or any store error, allows (fail open); the error is returned
// for logging.
func (l *Lockout) Check(ctx context.Context, accountID uuid.UUID) (Decision, error) {
	rec, err := l.Store.Get(ctx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return allow, nil
	}
	if err != nil {
		return allow, err
	}
	if rec.BlockedUntil != nil && rec.BlockedUntil.After(l.now().UTC()) {
		return Decision{
			Reason:           ReasonLocked,
			RemainingMinutes: remainingMinutes(*rec.BlockedUntil, l.now().UTC()),
		}, nil
	}
	return allow, nil
}

// Clear removes the record entirely. Used on successful redemption and by
// the administrative hard unblock.
func (l *Lockout) Clear(ctx context.Context, accountID uuid.UUID) error {
	return l.Store.Delete(ctx, accountID)
}

// SoftReset zeroes the counter and lifts the block but keeps the row's
// failure history. Administrative operation.
func (l *Lockout) SoftReset(ctx context.Context, accountID uuid.UUID) error {
	return l.Store.SoftReset(ctx, accountID)
}
