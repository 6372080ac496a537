package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledger-stack/ledger_service/pkg/logger"
)

// StuckMarker fails transactions abandoned mid-flight.
type StuckMarker interface {
	MarkStuckAsFailed(ctx context.Context, olderThan time.Time) ([]string, error)
}

// Invalidator drops cached read-side state after a sweep mutates the
// transaction store.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Worker periodically fails transactions stuck in PROCESSING before the
// credit leg. No resumption is attempted: idempotent balance operations
// make a client retry with the same key replay safely from the start.
type Worker struct {
	store      StuckMarker
	cache      Invalidator
	cron       *cron.Cron
	schedule   string
	stuckAfter time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// New creates a sweeper. schedule is a cron expression (or @every
// form); stuckAfter is how long a transaction may sit unfinished.
func New(store StuckMarker, cache Invalidator, schedule string, stuckAfter time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		store:      store,
		cache:      cache,
		cron:       cron.New(),
		schedule:   schedule,
		stuckAfter: stuckAfter,
		logger:     log,
		now:        time.Now,
	}
}

// Start registers and starts the sweep schedule.
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, w.runSweep); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	w.cron.Start()
	w.logger.Info("Transaction sweeper started",
		"schedule", w.schedule, "stuck_after", w.stuckAfter.String())
	return nil
}

func (w *Worker) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := w.Sweep(ctx); err != nil {
		w.logger.Error("Sweep failed", "error", err)
	}
}

// Sweep runs one pass and returns the number of transactions failed.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.stuckAfter)

	ids, err := w.store.MarkStuckAsFailed(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stuck transactions: %w", err)
	}

	if len(ids) > 0 {
		w.logger.Warn("Failed stuck transactions", "count", len(ids), "transaction_ids", ids)
		if w.cache != nil {
			w.cache.Invalidate(ctx)
		}
	}

	return len(ids), nil
}

// Shutdown stops the cron scheduler, waiting for a running sweep.
func (w *Worker) Shutdown(timeout time.Duration) error {
	ctx := w.cron.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("sweeper shutdown timed out after %s", timeout)
	}
}
