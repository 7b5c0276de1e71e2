package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/creditgate/backend/internal/middleware"
	"github.com/creditgate/backend/internal/models"
)

// LedgerReader is the read side of the credit ledger.
type LedgerReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.TransactionLogEntry, error)
}

// AccountHandler serves the authenticated account's balance and ledger
// history.
type AccountHandler struct {
	Ledger LedgerReader
	Logger *slog.Logger
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	balance, err := h.Ledger.GetBalance(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("get balance", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.Ledger.History(r.Context(), acc.ID, limit)
	if err != nil {
		h.Logger.Error("ledger history", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.TransactionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
