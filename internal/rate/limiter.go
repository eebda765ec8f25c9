package rate

import (
	"context"
	"time"
)

// Limiter answers whether a key (normally a client IP) may attempt a login
// now. When denied, retryAfter tells the caller how long until the window
// resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}
