package routes

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ledger-stack/ledger_service/internal/api/handlers"
	"github.com/ledger-stack/ledger_service/internal/api/middleware"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/config"
	"github.com/ledger-stack/ledger_service/pkg/logger"
	"github.com/ledger-stack/ledger_service/pkg/metrics"
	"github.com/ledger-stack/ledger_service/pkg/tracing"
)

func newEngine(serviceName string, cfg *config.Config, log *logger.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Order matters: tracing and request ID first so everything
	// downstream logs with context.
	router.Use(tracing.HTTPMiddleware(serviceName))
	router.Use(middleware.RequestID())
	router.Use(metrics.Middleware())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestTimeout(time.Duration(cfg.Server.RequestTimeout) * time.Second))

	return router
}

func mountCommon(router *gin.Engine, health *handlers.HealthHandlers) {
	router.GET("/health/liveness", health.Liveness)
	router.GET("/health/readiness", health.Readiness)
	router.GET("/metrics", metrics.Handler())
}

// NewAccountRouter wires the account service endpoints.
func NewAccountRouter(
	cfg *config.Config,
	log *logger.Logger,
	accountHandlers *handlers.AccountHandlers,
	userHandlers *handlers.UserHandlers,
	healthHandlers *handlers.HealthHandlers,
) *gin.Engine {
	router := newEngine("account-service", cfg, log)
	mountCommon(router, healthHandlers)

	api := router.Group("/api")
	api.Use(middleware.Authentication(cfg.JWT.Secret))
	{
		api.GET("/users/me", userHandlers.Me)

		accounts := api.Group("/accounts")
		{
			accounts.POST("", accountHandlers.CreateAccount)
			accounts.GET("", accountHandlers.ListAccounts)
			accounts.GET("/:id", accountHandlers.GetAccount)
			accounts.GET("/:id/operations", accountHandlers.ListBalanceOperations)

			privileged := accounts.Group("")
			privileged.Use(middleware.RequirePrivileged())
			{
				privileged.POST("/:id/balance-operations", accountHandlers.ApplyBalanceOperation)
				privileged.PUT("/:id/balance", accountHandlers.SetBalance)
				privileged.DELETE("/:id", accountHandlers.DeleteAccount)
			}
		}
	}

	return router
}

// NewTransactionRouter wires the transaction service endpoints.
func NewTransactionRouter(
	cfg *config.Config,
	log *logger.Logger,
	transactionHandlers *handlers.TransactionHandlers,
	healthHandlers *handlers.HealthHandlers,
) *gin.Engine {
	router := newEngine("transaction-service", cfg, log)
	mountCommon(router, healthHandlers)

	api := router.Group("/api")
	api.Use(middleware.Authentication(cfg.JWT.Secret))
	{
		transactions := api.Group("/transactions")
		{
			transactions.POST("/transfer", transactionHandlers.Transfer)
			transactions.POST("/deposit", transactionHandlers.Deposit)
			transactions.POST("/withdraw", transactionHandlers.Withdraw)
			transactions.POST("/:id/reverse", transactionHandlers.Reverse)
			transactions.GET("/search", transactionHandlers.Search)
			transactions.GET("/account/:id", transactionHandlers.History)
			transactions.GET("/:id", transactionHandlers.GetTransaction)
		}
	}

	return router
}
