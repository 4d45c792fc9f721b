package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows limit requests per window for each key, with bursts
// of up to limit.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
	}
}

// Wait blocks until a request for key is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("memory: rate limit wait %s: %w", key, err)
	}
	return nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
