package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Processed transactions by type and outcome.",
		},
		[]string{"type", "status"},
	)

	balanceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_balance_operations_total",
			Help: "Balance operations by resulting status.",
		},
		[]string{"status"},
	)

	accountClientCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_account_client_calls_total",
			Help: "Outbound account service calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

// RecordTransaction records a completed orchestration attempt.
func RecordTransaction(txType, status string) {
	transactionsTotal.WithLabelValues(txType, status).Inc()
}

// RecordBalanceOperation records a balance engine outcome (APPLIED, REJECTED, REPLAYED).
func RecordBalanceOperation(status string) {
	balanceOperationsTotal.WithLabelValues(status).Inc()
}

// RecordAccountClientCall records an outbound call outcome.
func RecordAccountClientCall(operation, outcome string) {
	accountClientCalls.WithLabelValues(operation, outcome).Inc()
}

// Middleware records request counts and latencies per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
