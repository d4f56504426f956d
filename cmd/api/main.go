package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/auth"
	"github.com/taskstake/backend/internal/config"
	"github.com/taskstake/backend/internal/friends"
	"github.com/taskstake/backend/internal/handlers"
	"github.com/taskstake/backend/internal/ledger"
	"github.com/taskstake/backend/internal/maintenance"
	"github.com/taskstake/backend/internal/repository"
	"github.com/taskstake/backend/internal/router"
	"github.com/taskstake/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Invalid DATABASE_URL", "error", err)
		os.Exit(1)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	evidenceRepo := repository.NewEvidenceRepo(pool)
	friendRepo := repository.NewFriendRepo(pool)

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, logger)

	// Domain services
	generator := services.NewGenerator(pool, taskRepo, userRepo, ledgerSvc, logger)
	sweeper := services.NewSweeper(pool, taskRepo, ledgerSvc, logger)
	judgment := services.NewJudgment(pool, taskRepo, ledgerSvc, logger)

	// Auth & friends
	authSvc := auth.NewService(pool, userRepo, ledgerRepo, cfg.JWTSecret,
		decimal.NewFromInt(cfg.SignupBonus), cfg.DefaultTimezone)
	authHandler := auth.NewHandler(authSvc, logger)

	friendsSvc := friends.NewService(pool, friendRepo, userRepo, logger)
	friendsHandler := friends.NewHandler(friendsSvc, logger)

	// Periodic wallet reconciliation via River.
	workers := river.NewWorkers()
	river.AddWorker(workers, maintenance.NewReconcileWalletsWorker(ledgerSvc, ledgerRepo, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return maintenance.ReconcileWalletsArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	apiRouter := router.New(router.Deps{
		Auth:    authHandler,
		AuthSvc: authSvc,
		Users:   userRepo,
		Tasks: &handlers.TaskHandler{
			Pool:      pool,
			Tasks:     taskRepo,
			Ledger:    ledgerSvc,
			Friends:   friendsSvc,
			Generator: generator,
			Sweeper:   sweeper,
			Logger:    logger,
		},
		Evidence: &handlers.EvidenceHandler{
			Pool:     pool,
			Tasks:    taskRepo,
			Evidence: evidenceRepo,
			Ledger:   ledgerSvc,
			Logger:   logger,
		},
		Judgement: &handlers.JudgementHandler{
			Judgment: judgment,
			Logger:   logger,
		},
		Wallet: &handlers.WalletHandler{
			Ledger: ledgerSvc,
			Logger: logger,
		},
		Maintenance: &handlers.MaintenanceHandler{
			Pool:   pool,
			Tasks:  taskRepo,
			Ledger: ledgerSvc,
			Logger: logger,
		},
		Friends: friendsHandler,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
