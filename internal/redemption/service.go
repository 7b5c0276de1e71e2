package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creditgate/backend/internal/models"
)

// Domain errors. These are the caller's fault (wrong, reused, or stale
// code) and each one counts against the account's lockout record.
var (
	ErrCodeNotFound    = errors.New("code not found")
	ErrCodeAlreadyUsed = errors.New("code already used")
	ErrCodeExpired     = errors.New("code expired")
)

// ErrRetryable wraps infrastructure failures (store unavailable, timeout,
// serialization conflict). The whole transaction has rolled back; the
// caller may retry, and the failure never counts against the lockout.
var ErrRetryable = errors.New("redemption temporarily unavailable")

// IsDomainError reports whether err is a wrong-code failure rather than an
// infrastructure one.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrCodeAlreadyUsed) ||
		errors.Is(err, ErrCodeExpired)
}

// Kind returns the machine-readable name of a domain error, or "".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return "CodeNotFound"
	case errors.Is(err, ErrCodeAlreadyUsed):
		return "CodeAlreadyUsed"
	case errors.Is(err, ErrCodeExpired):
		return "CodeExpired"
	default:
		return ""
	}
}

// Receipt reports a successful redemption.
type Receipt struct {
	CreditsAdded int `json:"credits_added"`
	NewBalance   int `json:"new_balance"`
}

// CodeStore is the minimal redemption-code interface for the engine.
type CodeStore interface {
	GetByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*models.RedemptionCode, error)
	MarkClaimed(ctx context.Context, tx pgx.Tx, id, accountID uuid.UUID, at time.Time) error
}

// AccountLocker locks the account row before the balance changes.
type AccountLocker interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
}

// Crediter is the ledger operation the engine needs: increment the balance
// and append the paired log entry inside the engine's transaction.
type Crediter interface {
	CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string) (newBalance int, err error)
}

// LockoutClearer removes the account's lockout record inside the engine's
// transaction, so the clear commits together with the claim.
type LockoutClearer interface {
	DeleteTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
}

// FailureRecorder counts a failed attempt. Runs outside the rolled-back
// transaction, after the domain error is certain.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, accountID uuid.UUID, address string) error
}

// TxBeginner abstracts transaction creation so tests don't need a
// pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service claims a code exactly once and credits exactly one account,
// atomically. For a fixed code, across any number of concurrent callers,
// at most one Redeem succeeds; the rest observe ErrCodeAlreadyUsed.
type Service struct {
	Pool     TxBeginner
	Codes    CodeStore
	Accounts AccountLocker
	Ledger   Crediter
	Lockouts LockoutClearer
	Failures FailureRecorder
	Logger   *slog.Logger

	now func() time.Time
}

func NewService(pool TxBeginner, codes CodeStore, accounts AccountLocker, ledger Crediter, lockouts LockoutClearer, failures FailureRecorder, logger *slog.Logger) *Service {
	return &Service{
		Pool:     pool,
		Codes:    codes,
		Accounts: accounts,
		Ledger:   ledger,
		Lockouts: lockouts,
		Failures: failures,
		Logger:   logger,
		now:      time.Now,
	}
}

// Redeem claims code for the account and credits its value, all in one
// store transaction: lock the code row, validate, mark claimed, credit the
// balance with a paired log entry, clear the lockout record, commit. Any
// failure after the claim begins rolls everything back; an ambiguous
// outcome is never treated as success.
func (s *Service) Redeem(ctx context.Context, accountID uuid.UUID, code, address string) (Receipt, error) {
	receipt, err := s.redeemTx(ctx, accountID, code)
	if err == nil {
		return receipt, nil
	}
	if IsDomainError(err) {
		// Counted after rollback: the attempt is definitively wrong,
		// and the failure row must survive the aborted transaction.
		if ferr := s.Failures.RecordFailure(ctx, accountID, address); ferr != nil {
			s.Logger.Error("record lockout failure", "account_id", accountID, "error", ferr)
		}
		return Receipt{}, err
	}
	return Receipt{}, fmt.Errorf("%w: %v", ErrRetryable, err)
}

func (s *Service) redeemTx(ctx context.Context, accountID uuid.UUID, code string) (Receipt, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return Receipt{}, err
	}
	defer tx.Rollback(ctx)

	row, err := s.Codes.GetByCodeForUpdate(ctx, tx, code)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrCodeNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	if row.Claimed() {
		return Receipt{}, ErrCodeAlreadyUsed
	}
	if row.Expired(s.now().UTC()) {
		return Receipt{}, ErrCodeExpired
	}

	if _, err := s.Accounts.GetByIDForUpdate(ctx, tx, accountID); err != nil {
		return Receipt{}, err
	}

	if err := s.Codes.MarkClaimed(ctx, tx, row.ID, accountID, s.now().UTC()); err != nil {
		// The claimed_at IS NULL guard matched no row even though we
		// hold the lock; treat as a lost race rather than success.
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrCodeAlreadyUsed
		}
		return Receipt{}, err
	}

	reason := fmt.Sprintf("%s %s", models.ReasonCodeRedemption, row.Code)
	newBalance, err := s.Ledger.CreditTx(ctx, tx, accountID, row.Credits, reason)
	if err != nil {
		return Receipt{}, err
	}

	if err := s.Lockouts.DeleteTx(ctx, tx, accountID); err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}
	return Receipt{CreditsAdded: row.Credits, NewBalance: newBalance}, nil
}
