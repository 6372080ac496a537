package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ledger-stack/ledger_service/internal/api/handlers"
	"github.com/ledger-stack/ledger_service/internal/api/routes"
	"github.com/ledger-stack/ledger_service/internal/domain/services/balance"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/config"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/database"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/repositories"
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
		ServiceName:  "account-service",
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

	migrationsDir := filepath.Join(cfg.Database.MigrationsPath, "account")
	if err := database.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	accountRepo := repositories.NewAccountRepository(db)
	operationRepo := repositories.NewBalanceOperationRepository(db)
	engine := balance.NewEngine(db, accountRepo, operationRepo, log)

	accountHandlers := handlers.NewAccountHandlers(accountRepo, engine, operationRepo, log)
	userHandlers := handlers.NewUserHandlers(repositories.NewUserRepository(db), log)
	healthHandlers := handlers.NewHealthHandlers(serviceVersion, log,
		handlers.ReadinessCheck{
			Name: "database",
			Probe: func(context.Context) error {
				return database.HealthCheck(db)
			},
		},
	)

	router := routes.NewAccountRouter(cfg, log, accountHandlers, userHandlers, healthHandlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	shutdown := graceful.NewShutdownManager(server, db, log)

	go func() {
		log.Info("Account service listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", "error", err)
		}
	}()

	shutdown.WaitForShutdown()
}
