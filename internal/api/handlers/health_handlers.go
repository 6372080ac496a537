package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// ReadinessCheck probes a single dependency.
type ReadinessCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandlers serves liveness and readiness probes. Liveness is
// unconditional; readiness runs every registered dependency probe.
type HealthHandlers struct {
	checks    []ReadinessCheck
	logger    *logger.Logger
	version   string
	startTime time.Time
}

// NewHealthHandlers creates health probe handlers.
func NewHealthHandlers(version string, log *logger.Logger, checks ...ReadinessCheck) *HealthHandlers {
	return &HealthHandlers{
		checks:    checks,
		logger:    log,
		version:   version,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health/liveness
func (h *HealthHandlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "UP",
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}

// Readiness handles GET /health/readiness
func (h *HealthHandlers) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "UP"
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			h.logger.Warn("Readiness probe failed", "check", check.Name, "error", err)
			results[check.Name] = err.Error()
			status = "DOWN"
			continue
		}
		results[check.Name] = "UP"
	}

	statusCode := http.StatusOK
	if status == "DOWN" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"version":   h.version,
		"checks":    results,
		"timestamp": time.Now().UTC(),
	})
}
