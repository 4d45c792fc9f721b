// Package memory provides in-process lock and pub/sub implementations for
// single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with an in-process lease table.
// Leases expire after their TTL like the Redis implementation.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The returned
// unlock function is safe to call more than once and only releases the lease
// it created.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if l, ok := lm.leases[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}

	token := uuid.New().String()
	lm.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.leases[key]; ok && l.token == token {
				delete(lm.leases, key)
			}
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
