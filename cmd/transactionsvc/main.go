package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ledger-stack/ledger_service/internal/api/handlers"
	"github.com/ledger-stack/ledger_service/internal/api/routes"
	"github.com/ledger-stack/ledger_service/internal/domain/services/history"
	"github.com/ledger-stack/ledger_service/internal/domain/services/limits"
	"github.com/ledger-stack/ledger_service/internal/domain/services/transaction"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/accountclient"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/cache"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/config"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/database"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/repositories"
	"github.com/ledger-stack/ledger_service/internal/workers/sweeper"
	"github.com/ledger-stack/ledger_service/pkg/graceful"
	"github.com/ledger-stack/ledger_service/pkg/logger"
	"github.com/ledger-stack/ledger_service/pkg/tracing"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "transaction-service",
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	migrationsDir := filepath.Join(cfg.Database.MigrationsPath, "transaction")
	if err := database.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// History reads survive a dead Redis; the cache degrades to
	// pass-through, so startup only warns.
	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Warn("Redis unavailable, history cache disabled", "error", err)
		redisClient = nil
	}

	transactionRepo := repositories.NewTransactionRepository(db)
	historyCache := history.NewCache(redisClient, log)
	accounts := accountclient.New(cfg.AccountService, log)

	limitsService := limits.NewService(transactionRepo, log)
	if cfg.Limits.ProfilePath != "" {
		if err := limitsService.LoadProfilesFromFile(cfg.Limits.ProfilePath); err != nil {
			log.Fatal("Failed to load limit profiles", "path", cfg.Limits.ProfilePath, "error", err)
		}
	} else {
		limitsRepo := repositories.NewLimitsRepository(db)
		if err := limitsService.LoadProfilesFromStore(context.Background(), limitsRepo); err != nil {
			log.Fatal("Failed to load limit profiles", "error", err)
		}
	}

	orchestrator := transaction.NewService(transactionRepo, accounts, limitsService, historyCache, log)

	transactionHandlers := handlers.NewTransactionHandlers(orchestrator, log)
	healthChecks := []handlers.ReadinessCheck{
		{
			Name: "database",
			Probe: func(context.Context) error {
				return database.HealthCheck(db)
			},
		},
		{Name: "account_service", Probe: accounts.Ping},
	}
	if redisClient != nil {
		healthChecks = append(healthChecks, handlers.ReadinessCheck{
			Name:  "redis",
			Probe: redisClient.Ping,
		})
	}
	healthHandlers := handlers.NewHealthHandlers(serviceVersion, log, healthChecks...)

	router := routes.NewTransactionRouter(cfg, log, transactionHandlers, healthHandlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	shutdown := graceful.NewShutdownManager(server, db, log)

	if cfg.Sweeper.Enabled {
		worker := sweeper.New(
			transactionRepo,
			historyCache,
			cfg.Sweeper.Schedule,
			time.Duration(cfg.Sweeper.StuckAfterMins)*time.Minute,
			log,
		)
		if err := worker.Start(); err != nil {
			log.Fatal("Failed to start stuck transaction sweeper", "error", err)
		}
		shutdown.Register(worker)
	}

	go func() {
		log.Info("Transaction service listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
}
