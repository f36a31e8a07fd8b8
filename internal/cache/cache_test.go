package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/models"
)

func TestNilCacheAlwaysMisses(t *testing.T) {
	var c *Cache
	if c.IsAvailable() {
		t.Fatal("nil cache reported available")
	}
	if _, ok := c.GetResult(context.Background(), "ai"); ok {
		t.Fatal("nil cache returned a hit")
	}
	if err := c.SetResult(context.Background(), models.Reservation{Category: "ai"}); err != nil {
		t.Fatalf("set on nil cache: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil cache: %v", err)
	}
}

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisErrorTripsBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryAfter = time.Hour
	c := NewWithClient(unreachableClient(), cfg, zerolog.Nop())
	defer c.Close()

	if !c.IsAvailable() {
		t.Fatal("cache should start available")
	}
	if _, ok := c.GetResult(context.Background(), "ai"); ok {
		t.Fatal("unexpected hit")
	}
	if c.IsAvailable() {
		t.Fatal("breaker did not trip after a redis error")
	}
}

func TestBreakerClosesAfterRetryWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryAfter = 10 * time.Millisecond
	c := NewWithClient(unreachableClient(), cfg, zerolog.Nop())
	defer c.Close()

	c.trip()
	if c.IsAvailable() {
		t.Fatal("breaker should be open")
	}
	time.Sleep(20 * time.Millisecond)
	if !c.IsAvailable() {
		t.Fatal("breaker should close after the retry window")
	}
}

func TestStaleResultsAreNotCached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryAfter = time.Hour
	c := NewWithClient(unreachableClient(), cfg, zerolog.Nop())
	defer c.Close()

	err := c.SetResult(context.Background(), models.Reservation{
		Category: "ai",
		Stale:    true,
		Records:  []models.SlotRecord{{Time: "10:10", Status: models.StatusCapacityClosed}},
	})
	if err != nil {
		t.Fatalf("stale set returned %v", err)
	}
	// A write would have hit the unreachable server and tripped the breaker.
	if !c.IsAvailable() {
		t.Fatal("stale result reached redis")
	}
}
