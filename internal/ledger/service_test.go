package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creditgate/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for AccountStore and LogStore. These exercise the real
// Service logic without a database.
// ---------------------------------------------------------------------------

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakePool struct{}

func (fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func newMockAccounts(accs ...*models.Account) *mockAccounts {
	m := &mockAccounts{accounts: make(map[uuid.UUID]*models.Account)}
	for _, a := range accs {
		cp := *a
		m.accounts[a.ID] = &cp
	}
	return m
}

func (m *mockAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	a.Balance += amount
	return a.Balance, nil
}

func (m *mockAccounts) DeductCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	if a.Balance < amount {
		// Mirrors the conditional UPDATE matching no row.
		return 0, pgx.ErrNoRows
	}
	a.Balance -= amount
	return a.Balance, nil
}

func (m *mockAccounts) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

type mockLog struct {
	mu      sync.Mutex
	entries []*models.TransactionLogEntry
}

func (m *mockLog) CreateTx(_ context.Context, _ pgx.Tx, e *models.TransactionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockLog) ListByAccountID(_ context.Context, accountID uuid.UUID, limit int) ([]*models.TransactionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TransactionLogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockLog) sumDeltas(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, e := range m.entries {
		if e.AccountID == accountID {
			total += e.Delta
		}
	}
	return total
}

func acct(id uuid.UUID, balance int) *models.Account {
	return &models.Account{ID: id, Balance: balance}
}

// ---------------------------------------------------------------------------

func TestCreditAppendsPairedLogEntry(t *testing.T) {
	id := uuid.New()
	accounts := newMockAccounts(acct(id, 50))
	log := &mockLog{}
	svc := NewService(fakePool{}, accounts, log)

	newBalance, err := svc.Credit(context.Background(), id, 100, "admin adjustment: top up")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if newBalance != 150 {
		t.Errorf("new balance: got %d, want 150", newBalance)
	}
	if len(log.entries) != 1 {
		t.Fatalf("log entries: got %d, want 1", len(log.entries))
	}
	e := log.entries[0]
	if e.Delta != 100 || e.BalanceAfter != 150 {
		t.Errorf("entry delta/balance_after: got %d/%d, want 100/150", e.Delta, e.BalanceAfter)
	}
	if e.Reason == "" {
		t.Error("entry reason must not be empty")
	}
}

func TestDebitRejectsInsufficientBalance(t *testing.T) {
	id := uuid.New()
	accounts := newMockAccounts(acct(id, 30))
	log := &mockLog{}
	svc := NewService(fakePool{}, accounts, log)

	_, err := svc.Debit(context.Background(), id, 31, "token issuance")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Debit: got %v, want ErrInsufficientBalance", err)
	}
	if got := accounts.balance(id); got != 30 {
		t.Errorf("balance after rejected debit: got %d, want 30", got)
	}
	if len(log.entries) != 0 {
		t.Errorf("rejected debit must not write a log entry, got %d", len(log.entries))
	}
}

func TestDebitLogsNegativeDelta(t *testing.T) {
	id := uuid.New()
	accounts := newMockAccounts(acct(id, 10))
	log := &mockLog{}
	svc := NewService(fakePool{}, accounts, log)

	newBalance, err := svc.Debit(context.Background(), id, 4, "token issuance")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if newBalance != 6 {
		t.Errorf("new balance: got %d, want 6", newBalance)
	}
	if log.entries[0].Delta != -4 {
		t.Errorf("delta: got %d, want -4", log.entries[0].Delta)
	}
}

func TestInvalidAmountsRejected(t *testing.T) {
	id := uuid.New()
	svc := NewService(fakePool{}, newMockAccounts(acct(id, 10)), &mockLog{})

	for _, amount := range []int{0, -5} {
		if _, err := svc.Credit(context.Background(), id, amount, "x"); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%d): got %v, want ErrInvalidAmount", amount, err)
		}
		if _, err := svc.Debit(context.Background(), id, amount, "x"); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Debit(%d): got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

// Ledger conservation: after any mix of credits and debits the sum of log
// deltas equals the balance.
func TestLedgerConservation(t *testing.T) {
	id := uuid.New()
	accounts := newMockAccounts(acct(id, 0))
	log := &mockLog{}
	svc := NewService(fakePool{}, accounts, log)
	ctx := context.Background()

	ops := []int{100, -30, 250, -1, -99, 7}
	for _, delta := range ops {
		var err error
		if delta > 0 {
			_, err = svc.Credit(ctx, id, delta, "credit")
		} else {
			_, err = svc.Debit(ctx, id, -delta, "debit")
		}
		if err != nil {
			t.Fatalf("op %d: %v", delta, err)
		}
	}

	if got, want := log.sumDeltas(id), accounts.balance(id); got != want {
		t.Errorf("sum of deltas %d != balance %d", got, want)
	}
	if accounts.balance(id) < 0 {
		t.Errorf("balance went negative: %d", accounts.balance(id))
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	id := uuid.New()
	accounts := newMockAccounts(acct(id, 0))
	log := &mockLog{}
	svc := NewService(fakePool{}, accounts, log)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := svc.Credit(ctx, id, i*10, "credit"); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}

	entries, err := svc.History(ctx, id, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history length: got %d, want 2", len(entries))
	}
	if entries[0].Delta != 30 || entries[1].Delta != 20 {
		t.Errorf("history order: got deltas %d,%d, want 30,20", entries[0].Delta, entries[1].Delta)
	}
}
