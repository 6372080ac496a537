package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/cache"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

type fakeRedis struct {
	data map[string][]byte
	down bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if f.down {
		return errors.New("connection refused")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = data
	return nil
}

func (f *fakeRedis) Get(_ context.Context, key string, dest interface{}) error {
	if f.down {
		return errors.New("connection refused")
	}
	data, ok := f.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	if f.down {
		return errors.New("connection refused")
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) Keys(_ context.Context, pattern string) ([]string, error) {
	if f.down {
		return nil, errors.New("connection refused")
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeRedis) Ping(context.Context) error { return nil }
func (f *fakeRedis) Close() error               { return nil }

func samplePage(page int) *entities.TransactionPage {
	return &entities.TransactionPage{
		Content:       []entities.Transaction{{ID: "tx-1", Type: entities.TransactionTypeTransfer}},
		Page:          page,
		Size:          20,
		TotalElements: 1,
		TotalPages:    1,
		Sort:          "created_at,desc",
	}
}

func TestCache_RoundTrip(t *testing.T) {
	redis := newFakeRedis()
	c := NewCache(redis, logger.New("error", "test"))

	c.SetPage(context.Background(), "42", samplePage(0))

	got, ok := c.GetPage(context.Background(), "42", 0, 20, "created_at,desc")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.TotalElements)
	assert.Equal(t, "tx-1", got.Content[0].ID)
}

func TestCache_MissOnDifferentKey(t *testing.T) {
	redis := newFakeRedis()
	c := NewCache(redis, logger.New("error", "test"))

	c.SetPage(context.Background(), "42", samplePage(0))

	_, ok := c.GetPage(context.Background(), "42", 1, 20, "created_at,desc")
	assert.False(t, ok)

	_, ok = c.GetPage(context.Background(), "43", 0, 20, "created_at,desc")
	assert.False(t, ok)
}

func TestCache_InvalidateDropsAllPages(t *testing.T) {
	redis := newFakeRedis()
	c := NewCache(redis, logger.New("error", "test"))

	c.SetPage(context.Background(), "42", samplePage(0))
	c.SetPage(context.Background(), "42", samplePage(1))
	c.SetPage(context.Background(), "43", samplePage(0))

	c.Invalidate(context.Background())

	_, ok := c.GetPage(context.Background(), "42", 0, 20, "created_at,desc")
	assert.False(t, ok)
	_, ok = c.GetPage(context.Background(), "43", 0, 20, "created_at,desc")
	assert.False(t, ok)
}

func TestCache_DegradesSilentlyWhenDown(t *testing.T) {
	redis := newFakeRedis()
	redis.down = true
	c := NewCache(redis, logger.New("error", "test"))

	// None of these may panic or error out.
	c.SetPage(context.Background(), "42", samplePage(0))
	_, ok := c.GetPage(context.Background(), "42", 0, 20, "created_at,desc")
	assert.False(t, ok)
	c.Invalidate(context.Background())
}

func TestCache_NilClientIsNoop(t *testing.T) {
	c := NewCache(nil, logger.New("error", "test"))

	c.SetPage(context.Background(), "42", samplePage(0))
	_, ok := c.GetPage(context.Background(), "42", 0, 20, "created_at,desc")
	assert.False(t, ok)
	c.Invalidate(context.Background())
}
