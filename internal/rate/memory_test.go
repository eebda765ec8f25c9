package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterBlocksOverLimit(t *testing.T) {
	limiter := NewMemory(3, time.Minute)
	now := time.Now()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
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
		t.Fatalf("fourth request should be blocked")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retryAfter: %v", retryAfter)
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemory(1, time.Minute)
	now := time.Now()
	ctx := context.Background()

	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.1", now); !allowed {
		t.Fatalf("first key should be allowed")
	}
	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.2", now); !allowed {
		t.Fatalf("second key should be allowed")
	}
	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.1", now); allowed {
		t.Fatalf("first key should now be blocked")
	}
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	limiter := NewMemory(1, time.Minute)
	now := time.Now()
	ctx := context.Background()

	limiter.Allow(ctx, "10.0.0.1", now)
	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.1", now); allowed {
		t.Fatalf("should be blocked inside the window")
	}

	later := now.Add(time.Minute + time.Second)
	if allowed, _, _ := limiter.Allow(ctx, "10.0.0.1", later); !allowed {
		t.Fatalf("should be allowed after the window resets")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	limiter := NewMemory(1, time.Minute)
	now := time.Now()
	ctx := context.Background()

	limiter.Allow(ctx, "10.0.0.1", now)
	limiter.Allow(ctx, "10.0.0.2", now)

	// Advancing past the cleanup interval with a fresh key should prune
	// expired entries.
	limiter.Allow(ctx, "10.0.0.3", now.Add(2*time.Minute))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.entries) != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", len(limiter.entries))
	}
}
