package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledger-stack/ledger_service/pkg/logger"
)

type fakeMarker struct {
	ids        []string
	err        error
	lastCutoff time.Time
}

func (f *fakeMarker) MarkStuckAsFailed(_ context.Context, olderThan time.Time) ([]string, error) {
	f.lastCutoff = olderThan
	return f.ids, f.err
}

type fakeInvalidator struct {
	invalidations int
}

func (f *fakeInvalidator) Invalidate(context.Context) { f.invalidations++ }

func TestSweep_FailsStuckTransactionsAndInvalidatesCache(t *testing.T) {
	marker := &fakeMarker{ids: []string{"tx-1", "tx-2"}}
	cache := &fakeInvalidator{}
	w := New(marker, cache, "@every 1m", 5*time.Minute, logger.New("error", "test"))

	fixed := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	count, err := w.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, fixed.Add(-5*time.Minute), marker.lastCutoff)
	assert.Equal(t, 1, cache.invalidations)
}

func TestSweep_NothingStuckLeavesCacheAlone(t *testing.T) {
	marker := &fakeMarker{}
	cache := &fakeInvalidator{}
	w := New(marker, cache, "@every 1m", 5*time.Minute, logger.New("error", "test"))

	count, err := w.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, count)
	assert.Equal(t, 0, cache.invalidations)
}

func TestSweep_PropagatesStoreErrors(t *testing.T) {
	marker := &fakeMarker{err: errors.New("connection refused")}
	w := New(marker, nil, "@every 1m", 5*time.Minute, logger.New("error", "test"))

	_, err := w.Sweep(context.Background())
	require.Error(t, err)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	w := New(&fakeMarker{}, nil, "not a schedule", 5*time.Minute, logger.New("error", "test"))
	require.Error(t, w.Start())
}
