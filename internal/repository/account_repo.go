package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creditgate/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, password_hash, role, balance, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Name, a.PasswordHash, a.Role, a.Balance, a.IsActive, a.ExpiresAt).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, balance, is_active, expires_at, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id))
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, balance, is_active, expires_at, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email))
}

// GetByIDForUpdate locks the account row. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return r.scanOne(tx.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, balance, is_active, expires_at, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, id))
}

// AddCredits adds amount to the account balance and returns the new balance.
func (r *AccountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// DeductCredits atomically deducts amount if the balance covers it.
// Returns pgx.ErrNoRows when the balance is insufficient.
func (r *AccountRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance - $1, updated_at = now()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// SetActive soft-enables or soft-disables an account. Accounts are never
// hard-deleted.
func (r *AccountRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET is_active = $2, updated_at = now() WHERE id = $1
	`, id, active)
	return err
}

func (r *AccountRepo) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, name, password_hash, role, balance, is_active, expires_at, created_at, updated_at
		FROM accounts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.Balance, &a.IsActive, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (r *AccountRepo) scanOne(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.Balance, &a.IsActive, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
