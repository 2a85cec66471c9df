// Package cache provides the Redis-backed read-through cache that sits
// next to the pool. Every lookup reports its hit or miss to the query
// monitor, which feeds the cache-hit-rate optimization rule.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-brasil/resilient-db-pool/internal/config"
	"github.com/joao-brasil/resilient-db-pool/internal/monitor"
)

// Cache wraps a Redis client with hit/miss accounting.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	mon    *monitor.Monitor
}

// New creates a cache backed by the configured Redis instance.
func New(cfg config.CacheConfig, mon *monitor.Monitor) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Cache{
		client: rdb,
		ttl:    cfg.TTL,
		mon:    mon,
	}
}

// Get looks up a key. The miss/hit is recorded to the monitor either way.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.mon.RecordCacheMiss()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %q: %w", key, err)
	}
	c.mon.RecordCacheHit()
	return val, true, nil
}

// Set stores a value under the configured TTL.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Invalidate removes a key, typically after a write invalidates it.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
