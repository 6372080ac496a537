package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledger-stack/ledger_service/internal/domain/entities"
	"github.com/ledger-stack/ledger_service/internal/infrastructure/cache"
	"github.com/ledger-stack/ledger_service/pkg/logger"
)

const (
	keyPrefix  = "history:"
	defaultTTL = 5 * time.Minute
)

// Cache memoizes transaction history pages. Every failure degrades
// silently to the database; the cache is never load-bearing.
type Cache struct {
	redis  cache.RedisClient
	ttl    time.Duration
	logger *logger.Logger
}

// NewCache creates a history page cache.
func NewCache(redis cache.RedisClient, log *logger.Logger) *Cache {
	return &Cache{
		redis:  redis,
		ttl:    defaultTTL,
		logger: log,
	}
}

func pageKey(accountID string, page, size int, sort string) string {
	return fmt.Sprintf("%s%s:%d:%d:%s", keyPrefix, accountID, page, size, sort)
}

// GetPage returns a cached page, or false on miss or cache failure.
func (c *Cache) GetPage(ctx context.Context, accountID string, page, size int, sort string) (*entities.TransactionPage, bool) {
	if c.redis == nil {
		return nil, false
	}

	var cached entities.TransactionPage
	err := c.redis.Get(ctx, pageKey(accountID, page, size, sort), &cached)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("History cache read failed", "account_id", accountID, "error", err)
		}
		return nil, false
	}

	return &cached, true
}

// SetPage stores a page. Failures are logged and swallowed.
func (c *Cache) SetPage(ctx context.Context, accountID string, result *entities.TransactionPage) {
	if c.redis == nil || result == nil {
		return
	}

	key := pageKey(accountID, result.Page, result.Size, result.Sort)
	if err := c.redis.Set(ctx, key, result, c.ttl); err != nil {
		c.logger.Warn("History cache write failed", "account_id", accountID, "error", err)
	}
}

// Invalidate drops every cached history page. Coarse but correct: any
// successful write can change any page.
func (c *Cache) Invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}

	keys, err := c.redis.Keys(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("History cache key scan failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	if err := c.redis.Del(ctx, keys...); err != nil {
		c.logger.Warn("History cache invalidation failed", "error", err)
	}
}
