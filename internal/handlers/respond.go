package handlers

import (
	"encoding/json"
	"net/http"
)

// Outcome vocabulary used by the gated endpoints. The gate middleware
// writes rate_limited and tool_detected itself; handlers produce the rest.
const (
	OutcomeRedeemed            = "redeemed"
	OutcomeCodeInvalid         = "code_invalid"
	OutcomeAccountLocked       = "account_locked"
	OutcomeInsufficientBalance = "insufficient_balance"
)

type redeemedResponse struct {
	Outcome    string `json:"outcome"`
	Credits    int    `json:"credits"`
	NewBalance int    `json:"new_balance"`
}

type codeInvalidResponse struct {
	Outcome string `json:"outcome"`
	Kind    string `json:"kind"`
}

type lockedResponse struct {
	Outcome          string `json:"outcome"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
