package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/creditgate/backend/internal/ledger"
	"github.com/creditgate/backend/internal/metrics"
	"github.com/creditgate/backend/internal/middleware"
	"github.com/creditgate/backend/internal/models"
)

// Debiter is the ledger operation token issuance needs.
type Debiter interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int, reason string) (newBalance int, err error)
}

// TokenMinter issues the provisioned token once the balance is spent.
type TokenMinter interface {
	MintProvisionedToken(accountID uuid.UUID, role string) (token string, expiresAt time.Time, err error)
}

// TokenHandler serves POST /api/v1/tokens: spend TokenCost credits, get a
// provisioned token back.
type TokenHandler struct {
	Ledger    Debiter
	Minter    TokenMinter
	Lockouts  LockoutChecker
	TokenCost int
	Timeout   time.Duration
	Logger    *slog.Logger
}

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	NewBalance int       `json:"new_balance"`
}

func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	dec, err := h.Lockouts.Check(ctx, acc.ID)
	if err != nil {
		h.Logger.Warn("lockout check unavailable, allowing", "account_id", acc.ID, "error", err)
	}
	if !dec.Allowed {
		metrics.Lockouts.Inc()
		writeJSON(w, http.StatusLocked, lockedResponse{
			Outcome:          OutcomeAccountLocked,
			RemainingMinutes: dec.RemainingMinutes,
		})
		return
	}

	newBalance, err := h.Ledger.Debit(ctx, acc.ID, h.TokenCost, models.ReasonTokenIssuance)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"outcome": OutcomeInsufficientBalance})
			return
		}
		h.Logger.Error("token debit failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"temporarily unavailable, retry later"}`, http.StatusServiceUnavailable)
		return
	}

	token, expiresAt, err := h.Minter.MintProvisionedToken(acc.ID, acc.Role)
	if err != nil {
		// The debit committed; surface the failure rather than guess.
		h.Logger.Error("mint provisioned token failed after debit", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"token issuance failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:      token,
		ExpiresAt:  expiresAt,
		NewBalance: newBalance,
	})
}
