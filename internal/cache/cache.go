/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps recent reservation results in Redis so API reads do
// not trigger an upstream fetch on every request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// DefaultResultTTL bounds how old a cached result may be.
const DefaultResultTTL = 30 * time.Second

// Key prefixes for Redis cache
const (
	KeyPrefix      = "slotwatch:cache:"
	KeyReservation = KeyPrefix + "reservations:" // + category
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
	RetryAfter     time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ResultTTL:      DefaultResultTTL,
		DisableOnError: true,
		RetryAfter:     time.Minute,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache
// is valid and always misses.
type Cache struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config

	mu         sync.RWMutex
	disabledAt time.Time // Circuit breaker state; zero when closed
}

// New creates a new cache instance. An unreachable Redis yields a cache that
// starts disabled rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	c := NewWithClient(client, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		c.trip()
		return c, nil
	}

	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational. A tripped breaker
// closes again after RetryAfter.
func (c *Cache) IsAvailable() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.mu.RLock()
	disabledAt := c.disabledAt
	c.mu.RUnlock()
	if disabledAt.IsZero() {
		return true
	}
	if c.config.RetryAfter > 0 && time.Since(disabledAt) >= c.config.RetryAfter {
		c.mu.Lock()
		c.disabledAt = time.Time{}
		c.mu.Unlock()
		c.logger.Info().Msg("re-enabling cache")
		return true
	}
	return false
}

func (c *Cache) trip() {
	c.mu.Lock()
	c.disabledAt = time.Now()
	c.mu.Unlock()
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	telemetry.CacheOperationsTotal.WithLabelValues(operation, "error").Inc()
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.trip()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		telemetry.CacheOperationsTotal.WithLabelValues("get", "corrupt").Inc()
		return false, nil
	}

	telemetry.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	telemetry.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// GetResult returns the cached result for category, if fresh.
func (c *Cache) GetResult(ctx context.Context, category string) (*models.Reservation, bool) {
	var res models.Reservation
	found, err := c.get(ctx, KeyReservation+category, &res)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("category", category).Msg("reservation cache hit")
	return &res, true
}

// SetResult caches a result. Stale results are not cached.
func (c *Cache) SetResult(ctx context.Context, res models.Reservation) error {
	if res.Stale || !c.IsAvailable() {
		return nil
	}
	return c.set(ctx, KeyReservation+res.Category, res, c.config.ResultTTL)
}

// InvalidateResults drops every cached result.
func (c *Cache) InvalidateResults(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Debug().Msg("invalidating reservation caches")
	return c.deletePattern(ctx, KeyReservation+"*")
}
