package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known transaction reasons. Handler and admin code may also supply
// free-form reasons; these cover the paths the service itself writes.
const (
	ReasonCodeRedemption  = "code redemption"
	ReasonTokenIssuance   = "token issuance"
	ReasonAdminAdjustment = "admin adjustment"
)

// TransactionLogEntry is an append-only audit record. For any account the
// sum of Delta over all entries equals the current balance; entries are
// never mutated or deleted.
type TransactionLogEntry struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	Delta        int       `json:"delta"`
	Reason       string    `json:"reason"`
	BalanceAfter int       `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}
