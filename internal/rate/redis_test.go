package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, limit, window, ""), srv
}

func TestRedisLimiterBlocksOverLimit(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, 2, time.Minute)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "10.0.0.1", now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "10.0.0.1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("third request should be blocked")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retryAfter, got %v", retryAfter)
	}
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	limiter, srv := newTestRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()
	now := time.Now()

	limiter.Allow(ctx, "10.0.0.1", now)
	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.1", now); allowed {
		t.Fatalf("should be blocked inside the window")
	}

	srv.FastForward(time.Minute + time.Second)

	allowed, _, err := limiter.Allow(ctx, "10.0.0.1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("should be allowed after the window expires")
	}
}

func TestRedisLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()
	now := time.Now()

	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.1", now); !allowed {
		t.Fatalf("first key should be allowed")
	}
	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.2", now); !allowed {
		t.Fatalf("second key should be allowed")
	}
}
