package models

import (
	"time"

	"github.com/google/uuid"
)

// RateWindow is the advisory per-(address, endpoint) request counter.
// It is mutated by atomic upsert only; losing a row fails open to "allow".
type RateWindow struct {
	Address      string     `json:"address"`
	Endpoint     string     `json:"endpoint"`
	RequestCount int        `json:"request_count"`
	WindowStart  time.Time  `json:"window_start"`
	LastSeen     time.Time  `json:"last_seen"`
	Suspicious   bool       `json:"suspicious"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Lockout tracks consecutive failed redemption attempts per account.
// LastAddress is recorded for audit only; the counter is keyed by account.
type Lockout struct {
	AccountID     uuid.UUID  `json:"account_id"`
	FailureCount  int        `json:"failure_count"`
	LastAddress   string     `json:"last_address"`
	LastFailureAt time.Time  `json:"last_failure_at"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
}

// FrequencyTrace is one observed request, kept only long enough to compute
// sub-minute burst rates. Rows are pruned by the janitor.
type FrequencyTrace struct {
	ID              uuid.UUID `json:"id"`
	Address         string    `json:"address"`
	Endpoint        string    `json:"endpoint"`
	ClientSignature string    `json:"client_signature"`
	Blocked         bool      `json:"blocked"`
	CreatedAt       time.Time `json:"created_at"`
}
