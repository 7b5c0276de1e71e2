package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creditgate/backend/internal/ledger"
	"github.com/creditgate/backend/internal/models"
)

// LockoutAdmin exposes the privileged lockout resets.
type LockoutAdmin interface {
	Clear(ctx context.Context, accountID uuid.UUID) error
	SoftReset(ctx context.Context, accountID uuid.UUID) error
}

// LedgerAdmin exposes manual balance adjustment.
type LedgerAdmin interface {
	Credit(ctx context.Context, accountID uuid.UUID, amount int, reason string) (int, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount int, reason string) (int, error)
}

// CodeIssuer is the code issuance layer: it only ever inserts new codes.
type CodeIssuer interface {
	CreateBatch(ctx context.Context, codes []*models.RedemptionCode) error
}

// AccountAdmin soft-disables and re-enables accounts.
type AccountAdmin interface {
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// AdminHandler serves the privileged /api/v1/admin surface. All routes are
// chained behind Auth and RequireAdmin.
type AdminHandler struct {
	Lockouts LockoutAdmin
	Ledger   LedgerAdmin
	Codes    CodeIssuer
	Accounts AccountAdmin
	Logger   *slog.Logger
}

func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAccountID(w, r)
	if !ok {
		return
	}
	if err := h.Lockouts.Clear(r.Context(), id); err != nil {
		h.Logger.Error("unblock", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (h *AdminHandler) SoftReset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathAccountID(w, r)
	if !ok {
		return
	}
	if err := h.Lockouts.SoftReset(r.Context(), id); err != nil {
		h.Logger.Error("soft reset", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type adjustRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Ledger.Credit)
}

func (h *AdminHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Ledger.Debit)
}

func (h *AdminHandler) adjust(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, int, string) (int, error)) {
	id, ok := pathAccountID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}
	reason := fmt.Sprintf("%s: %s", models.ReasonAdminAdjustment, req.Reason)
	newBalance, err := op(r.Context(), id, req.Amount, reason)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			writeJSON(w, http.StatusConflict, map[string]string{"outcome": OutcomeInsufficientBalance})
			return
		}
		h.Logger.Error("manual adjustment", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"new_balance": newBalance})
}

func (h *AdminHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *AdminHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AdminHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathAccountID(w, r)
	if !ok {
		return
	}
	if err := h.Accounts.SetActive(r.Context(), id, active); err != nil {
		h.Logger.Error("set active", "account_id", id, "active", active, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_active": active})
}

type issueCodesRequest struct {
	Count     int        `json:"count"`
	Credits   int        `json:"credits"`
	Prefix    string     `json:"prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type issueCodesResponse struct {
	BatchID string   `json:"batch_id"`
	Codes   []string `json:"codes"`
}

// IssueCodes generates a batch of single-use codes. The redemption engine
// only ever transitions these rows; it never creates them.
func (h *AdminHandler) IssueCodes(w http.ResponseWriter, r *http.Request) {
	var req issueCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Count < 1 || req.Count > 10000 {
		http.Error(w, `{"error":"count must be 1-10000"}`, http.StatusBadRequest)
		return
	}
	if req.Credits < 1 {
		http.Error(w, `{"error":"credits must be > 0"}`, http.StatusBadRequest)
		return
	}

	batchID := uuid.New().String()
	codes := make([]*models.RedemptionCode, 0, req.Count)
	values := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		value, err := generateCode(req.Prefix)
		if err != nil {
			h.Logger.Error("generate code", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		codes = append(codes, &models.RedemptionCode{
			ID:        uuid.New(),
			Code:      value,
			Credits:   req.Credits,
			BatchID:   batchID,
			ExpiresAt: req.ExpiresAt,
		})
		values = append(values, value)
	}

	if err := h.Codes.CreateBatch(r.Context(), codes); err != nil {
		h.Logger.Error("create code batch", "batch_id", batchID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, issueCodesResponse{BatchID: batchID, Codes: values})
}

func generateCode(prefix string) (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := strings.ToUpper(hex.EncodeToString(buf))
	if prefix != "" {
		return prefix + "-" + value, nil
	}
	return value, nil
}

func pathAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
