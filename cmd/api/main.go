package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/creditgate/backend/internal/abuse"
	"github.com/creditgate/backend/internal/auth"
	"github.com/creditgate/backend/internal/config"
	"github.com/creditgate/backend/internal/db"
	"github.com/creditgate/backend/internal/handlers"
	"github.com/creditgate/backend/internal/janitor"
	"github.com/creditgate/backend/internal/ledger"
	"github.com/creditgate/backend/internal/middleware"
	"github.com/creditgate/backend/internal/redemption"
	"github.com/creditgate/backend/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = "supersecretdev"
		slog.Warn("JWT_SECRET not set, using development default")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// Fixed schema, applied once at boot. No DDL at request time.
	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations (job queue tables)
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	codeRepo := repository.NewCodeRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	windowRepo := repository.NewRateWindowRepo(pool)
	lockoutRepo := repository.NewLockoutRepo(pool)
	traceRepo := repository.NewTraceRepo(pool)

	// Core services
	ledgerSvc := ledger.NewService(pool, accountRepo, txRepo)
	collector := abuse.NewCollector(traceRepo, cfg.ToolBlock)
	limiter := abuse.NewLimiter(windowRepo, cfg.LimitsFor, abuse.Policy{
		MinuteBlock:          cfg.MinuteBlock,
		TenMinuteBlock:       cfg.TenMinuteBlock,
		HourlyBlock:          cfg.HourlyBlock,
		RepeatOffenderBlock:  cfg.RepeatOffenderBlock,
		EscalationMultiplier: cfg.EscalationMultiplier,
	})
	lockout := abuse.NewLockout(lockoutRepo, cfg.LockoutThreshold, cfg.LockoutDuration)
	engine := redemption.NewService(pool, codeRepo, accountRepo, ledgerSvc, lockoutRepo, lockout, logger)

	authSvc := auth.NewService(accountRepo, []byte(secret), cfg.SessionTTL, cfg.TokenTTL)

	// Janitor: periodic prune of advisory abuse state
	workers := river.NewWorkers()
	river.AddWorker(workers, janitor.NewWorker(traceRepo, windowRepo, cfg.TraceRetention, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.JanitorInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return janitor.CleanupJobArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// HTTP surface
	gate := &middleware.Gate{
		Collector: collector,
		Limiter:   limiter,
		Windows:   windowRepo,
		Timeout:   cfg.GateTimeout,
		Logger:    logger,
	}
	authMW := middleware.Auth(authSvc)

	authHandler := auth.NewHandler(authSvc, logger)
	redeemHandler := &handlers.RedeemHandler{Engine: engine, Lockouts: lockout, Timeout: cfg.LedgerTimeout, Logger: logger}
	tokenHandler := &handlers.TokenHandler{Ledger: ledgerSvc, Minter: authSvc, Lockouts: lockout, TokenCost: cfg.TokenCost, Timeout: cfg.LedgerTimeout, Logger: logger}
	accountHandler := &handlers.AccountHandler{Ledger: ledgerSvc, Logger: logger}
	adminHandler := &handlers.AdminHandler{Lockouts: lockout, Ledger: ledgerSvc, Codes: codeRepo, Accounts: accountRepo, Logger: logger}

	mux := http.NewServeMux()
	RegisterRoutes(mux, gate, authMW, authHandler, redeemHandler, tokenHandler, accountHandler, adminHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
