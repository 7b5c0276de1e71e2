package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creditgate/backend/internal/auth"
	"github.com/creditgate/backend/internal/handlers"
	"github.com/creditgate/backend/internal/middleware"
)

// RegisterRoutes wires the full API surface.
// Gated endpoints chain: Gate (pre-auth, IP-keyed) -> Auth -> handler.
// The per-account lockout check runs inside the redeem/token handlers.
func RegisterRoutes(
	mux *http.ServeMux,
	gate *middleware.Gate,
	authMW func(http.Handler) http.Handler,
	authHandler *auth.Handler,
	redeemHandler *handlers.RedeemHandler,
	tokenHandler *handlers.TokenHandler,
	accountHandler *handlers.AccountHandler,
	adminHandler *handlers.AdminHandler,
) {
	mux.Handle("POST /api/v1/auth/register", http.HandlerFunc(authHandler.Register))
	mux.Handle("POST /api/v1/auth/login", http.HandlerFunc(authHandler.Login))

	mux.Handle("POST /api/v1/redeem",
		gate.Protect("redeem")(authMW(http.HandlerFunc(redeemHandler.Redeem))))
	mux.Handle("POST /api/v1/tokens",
		gate.Protect("token")(authMW(http.HandlerFunc(tokenHandler.Issue))))

	mux.Handle("GET /api/v1/account/balance", authMW(http.HandlerFunc(accountHandler.GetBalance)))
	mux.Handle("GET /api/v1/account/ledger", authMW(http.HandlerFunc(accountHandler.GetHistory)))

	admin := func(h http.HandlerFunc) http.Handler {
		return authMW(middleware.RequireAdmin(h))
	}
	mux.Handle("POST /api/v1/admin/accounts/{id}/unblock", admin(adminHandler.Unblock))
	mux.Handle("POST /api/v1/admin/accounts/{id}/soft-reset", admin(adminHandler.SoftReset))
	mux.Handle("POST /api/v1/admin/accounts/{id}/credit", admin(adminHandler.Credit))
	mux.Handle("POST /api/v1/admin/accounts/{id}/debit", admin(adminHandler.Debit))
	mux.Handle("POST /api/v1/admin/accounts/{id}/disable", admin(adminHandler.Disable))
	mux.Handle("POST /api/v1/admin/accounts/{id}/enable", admin(adminHandler.Enable))
	mux.Handle("POST /api/v1/admin/codes", admin(adminHandler.IssueCodes))

	mux.Handle("GET /metrics", promhttp.Handler())
}
