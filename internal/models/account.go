package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleStandard = "standard"
	RoleAdmin    = "admin"
)

type Account struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Balance      int        `json:"balance"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Usable reports whether the account may perform gated operations:
// active and not past its expiry.
func (a *Account) Usable(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return false
	}
	return true
}
