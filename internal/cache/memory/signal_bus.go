package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

const subscriberBuffer = 128

// SignalBus implements domain.SignalBus by fanning payloads out to in-process
// subscribers. A subscriber that falls behind misses messages rather than
// blocking publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers payload to every current subscriber of channel.
func (sb *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	for ch := range sb.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel. The returned channel is
// closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	sb.mu.Lock()
	if sb.subs[channel] == nil {
		sb.subs[channel] = make(map[chan []byte]struct{})
	}
	sb.subs[channel][ch] = struct{}{}
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()
		sb.mu.Lock()
		delete(sb.subs[channel], ch)
		sb.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
