package domain

import (
	"context"
	"time"
)

// LockManager provides mutual exclusion across ledger writers, possibly in
// other processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus fans ledger and settlement events out to subscribers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels published by the services.
const (
	ChannelPositions   = "positions"
	ChannelSettlements = "settlements"
)

// RateLimiter paces outbound calls sharing a key.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}
