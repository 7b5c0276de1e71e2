package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creditgate/backend/internal/abuse"
	"github.com/creditgate/backend/internal/metrics"
	"github.com/creditgate/backend/internal/middleware"
	"github.com/creditgate/backend/internal/redemption"
)

// Redeemer is the redemption engine interface the handler needs.
type Redeemer interface {
	Redeem(ctx context.Context, accountID uuid.UUID, code, address string) (redemption.Receipt, error)
}

// LockoutChecker reports whether an account is currently locked out.
type LockoutChecker interface {
	Check(ctx context.Context, accountID uuid.UUID) (abuse.Decision, error)
}

// RedeemHandler serves POST /api/v1/redeem. The gate middleware has
// already cleared the caller's address; this handler adds the per-account
// lockout check before touching the engine.
type RedeemHandler struct {
	Engine   Redeemer
	Lockouts LockoutChecker
	Timeout  time.Duration
	Logger   *slog.Logger
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (h *RedeemHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		// Input error: no side effects, no lockout penalty.
		http.Error(w, `{"error":"code is required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	// Locked accounts are rejected before the ledger is consulted.
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

	receipt, err := h.Engine.Redeem(ctx, acc.ID, code, middleware.ClientAddress(r))
	if err != nil {
		if kind := redemption.Kind(err); kind != "" {
			metrics.Redemptions.WithLabelValues(kind).Inc()
			writeJSON(w, http.StatusUnprocessableEntity, codeInvalidResponse{
				Outcome: OutcomeCodeInvalid,
				Kind:    kind,
			})
			return
		}
		metrics.Redemptions.WithLabelValues("retryable_error").Inc()
		h.Logger.Error("redeem failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"temporarily unavailable, retry later"}`, http.StatusServiceUnavailable)
		return
	}

	metrics.Redemptions.WithLabelValues("redeemed").Inc()
	writeJSON(w, http.StatusOK, redeemedResponse{
		Outcome:    OutcomeRedeemed,
		Credits:    receipt.CreditsAdded,
		NewBalance: receipt.NewBalance,
	})
}
