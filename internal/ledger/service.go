package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creditgate/backend/internal/models"
)

// ErrInsufficientBalance is returned when a debit would take the balance
// below zero.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidAmount is returned for zero or negative credit/debit amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// LogStore is the minimal transaction-log interface for the ledger.
type LogStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.TransactionLogEntry) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.TransactionLogEntry, error)
}

// TxBeginner abstracts transaction creation so tests don't need a
// pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the only path through which account balances change. Every
// mutation pairs the balance update with a transaction-log entry in the
// same store transaction.
type Service struct {
	Pool     TxBeginner
	Accounts AccountStore
	Log      LogStore
}

func NewService(pool TxBeginner, accounts AccountStore, log LogStore) *Service {
	return &Service{Pool: pool, Accounts: accounts, Log: log}
}

// GetBalance returns the account's current balance.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	acc, err := s.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// CreditTx increments the balance and appends the paired log entry inside
// the caller's transaction. The caller must hold the account row lock.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	newBalance, err := s.Accounts.AddCredits(ctx, tx, accountID, amount)
	if err != nil {
		return 0, err
	}
	entry := &models.TransactionLogEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Delta:        amount,
		Reason:       reason,
		BalanceAfter: newBalance,
	}
	if err := s.Log.CreateTx(ctx, tx, entry); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// DebitTx decrements the balance and appends the paired log entry inside
// the caller's transaction. Returns ErrInsufficientBalance when the
// conditional update matches no row.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	newBalance, err := s.Accounts.DeductCredits(ctx, tx, accountID, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientBalance
		}
		return 0, err
	}
	entry := &models.TransactionLogEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Delta:        -amount,
		Reason:       reason,
		BalanceAfter: newBalance,
	}
	if err := s.Log.CreateTx(ctx, tx, entry); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Credit runs CreditTx in its own transaction, locking the account row
// first. Used by administrative adjustments.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.Accounts.GetByIDForUpdate(ctx, tx, accountID); err != nil {
		return 0, err
	}
	newBalance, err := s.CreditTx(ctx, tx, accountID, amount, reason)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Debit runs DebitTx in its own transaction, locking the account row first.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.Accounts.GetByIDForUpdate(ctx, tx, accountID); err != nil {
		return 0, err
	}
	newBalance, err := s.DebitTx(ctx, tx, accountID, amount, reason)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// History returns up to limit log entries for the account, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.TransactionLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Log.ListByAccountID(ctx, accountID, limit)
}
