package models

import (
	"time"

	"github.com/google/uuid"
)

// RedemptionCode is a single-use code exchangeable for request credits.
// A code transitions unclaimed -> claimed exactly once; ClaimedBy and
// ClaimedAt are nil until then and never change afterwards.
type RedemptionCode struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	Credits   int        `json:"credits"`
	BatchID   string     `json:"batch_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ClaimedBy *uuid.UUID `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (c *RedemptionCode) Claimed() bool {
	return c.ClaimedAt != nil
}

func (c *RedemptionCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
