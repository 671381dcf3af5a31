// Package ai provides AI client adapters and caches used by the pipeline.
package ai

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

// RedisCache implements domain.ExtractionCache on Redis. Keys are content
// hashes produced by the usecase layer, so identical input text with the same
// schema version always lands on the same entry.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache constructs a RedisCache. A non-positive ttl means entries
// never expire.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached raw response and whether it was present.
func (c *RedisCache) Get(ctx domain.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		observability.CacheLookup(false)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=cache.get: %w", err)
	}
	observability.CacheLookup(true)
	return v, true, nil
}

// Set stores a raw response under key.
func (c *RedisCache) Set(ctx domain.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	return nil
}
