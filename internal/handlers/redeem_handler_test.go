package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creditgate/backend/internal/abuse"
	"github.com/creditgate/backend/internal/middleware"
	"github.com/creditgate/backend/internal/models"
	"github.com/creditgate/backend/internal/redemption"
)

type mockEngine struct {
	receipt  redemption.Receipt
	err      error
	calls    int
	lastCode string
}

func (m *mockEngine) Redeem(_ context.Context, accountID uuid.UUID, code, address string) (redemption.Receipt, error) {
	m.calls++
	m.lastCode = code
	return m.receipt, m.err
}

type mockLockoutChecker struct {
	decision abuse.Decision
	err      error
}

func (m *mockLockoutChecker) Check(_ context.Context, accountID uuid.UUID) (abuse.Decision, error) {
	return m.decision, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedeemHandler(engine *mockEngine, lockouts *mockLockoutChecker) *RedeemHandler {
	return &RedeemHandler{
		Engine:   engine,
		Lockouts: lockouts,
		Timeout:  10 * time.Second,
		Logger:   discardLogger(),
	}
}

func doRedeem(h *RedeemHandler, acc *models.Account, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/redeem", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.30:41000"
	if acc != nil {
		req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	}
	rec := httptest.NewRecorder()
	h.Redeem(rec, req)
	return rec
}

func stdAccount() *models.Account {
	return &models.Account{ID: uuid.New(), Email: "u@example.com", Role: models.RoleStandard, IsActive: true}
}

func TestRedeemSuccess(t *testing.T) {
	engine := &mockEngine{receipt: redemption.Receipt{CreditsAdded: 100, NewBalance: 150}}
	h := newRedeemHandler(engine, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})

	rec := doRedeem(h, stdAccount(), `{"code":"GIFT-ABC123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp redeemedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != OutcomeRedeemed || resp.Credits != 100 || resp.NewBalance != 150 {
		t.Errorf("response: %+v", resp)
	}
	if engine.lastCode != "GIFT-ABC123" {
		t.Errorf("engine saw code %q", engine.lastCode)
	}
}

func TestRedeemTrimsCode(t *testing.T) {
	engine := &mockEngine{receipt: redemption.Receipt{CreditsAdded: 5, NewBalance: 5}}
	h := newRedeemHandler(engine, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})

	doRedeem(h, stdAccount(), `{"code":"  ABC  "}`)
	if engine.lastCode != "ABC" {
		t.Errorf("code not trimmed: %q", engine.lastCode)
	}
}

func TestRedeemRejectsEmptyCodeWithoutPenalty(t *testing.T) {
	engine := &mockEngine{}
	h := newRedeemHandler(engine, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})

	for _, body := range []string{`{"code":""}`, `{"code":"   "}`, `{}`} {
		rec := doRedeem(h, stdAccount(), body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want 400", body, rec.Code)
		}
	}
	if engine.calls != 0 {
		t.Error("engine called for empty code")
	}
}

func TestRedeemRejectsMalformedJSON(t *testing.T) {
	h := newRedeemHandler(&mockEngine{}, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})
	if rec := doRedeem(h, stdAccount(), `{code:`); rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestRedeemRequiresAuth(t *testing.T) {
	h := newRedeemHandler(&mockEngine{}, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})
	if rec := doRedeem(h, nil, `{"code":"X"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}

func TestRedeemLockedAccount(t *testing.T) {
	engine := &mockEngine{}
	h := newRedeemHandler(engine, &mockLockoutChecker{decision: abuse.Decision{
		Reason:           abuse.ReasonLocked,
		RemainingMinutes: 5,
	}})

	rec := doRedeem(h, stdAccount(), `{"code":"GIFT-ABC123"}`)
	if rec.Code != http.StatusLocked {
		t.Fatalf("status: got %d, want 423", rec.Code)
	}
	var resp lockedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != OutcomeAccountLocked || resp.RemainingMinutes != 5 {
		t.Errorf("response: %+v", resp)
	}
	if engine.calls != 0 {
		t.Error("engine called while the account was locked")
	}
}

func TestRedeemDomainErrorsMapToCodeInvalid(t *testing.T) {
	cases := []struct {
		err      error
		wantKind string
	}{
		{redemption.ErrCodeNotFound, "CodeNotFound"},
		{redemption.ErrCodeAlreadyUsed, "CodeAlreadyUsed"},
		{redemption.ErrCodeExpired, "CodeExpired"},
	}
	for _, tc := range cases {
		t.Run(tc.wantKind, func(t *testing.T) {
			h := newRedeemHandler(&mockEngine{err: tc.err}, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})
			rec := doRedeem(h, stdAccount(), `{"code":"BOGUS"}`)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status: got %d, want 422", rec.Code)
			}
			var resp codeInvalidResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Outcome != OutcomeCodeInvalid || resp.Kind != tc.wantKind {
				t.Errorf("response: %+v", resp)
			}
		})
	}
}

func TestRedeemRetryableErrorIs503(t *testing.T) {
	wrapped := fmt.Errorf("%w: connection refused", redemption.ErrRetryable)
	h := newRedeemHandler(&mockEngine{err: wrapped}, &mockLockoutChecker{decision: abuse.Decision{Allowed: true}})

	rec := doRedeem(h, stdAccount(), `{"code":"GIFT-ABC123"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
}

func TestRedeemLockoutCheckFailsOpen(t *testing.T) {
	engine := &mockEngine{receipt: redemption.Receipt{CreditsAdded: 10, NewBalance: 10}}
	h := newRedeemHandler(engine, &mockLockoutChecker{
		decision: abuse.Decision{Allowed: true},
		err:      errors.New("lockout store down"),
	})

	rec := doRedeem(h, stdAccount(), `{"code":"GIFT-ABC123"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if engine.calls != 1 {
		t.Error("engine not reached on lockout store failure")
	}
}
