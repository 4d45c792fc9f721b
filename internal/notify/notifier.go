// Package notify forwards ledger events to chat channels. A Notifier relays
// events from the signal bus to every registered Sender (Telegram, Discord),
// filtered by event name so operators receive only the alerts they care about.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event names; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to senders. Only events named
// in events are forwarded by Notify; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends a notification to all senders if event passes the filter.
// One sender failing does not stop delivery to the rest; every failure is
// returned joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Relay subscribes to the positions channel and turns each event into a
// notification until ctx is cancelled.
func (n *Notifier) Relay(ctx context.Context, bus domain.SignalBus) error {
	msgs, err := bus.Subscribe(ctx, domain.ChannelPositions)
	if err != nil {
		return fmt.Errorf("notifier: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			event, title, body, err := FormatEvent(data)
			if err != nil {
				n.logger.WarnContext(ctx, "notifier: skipping malformed event", slog.String("error", err.Error()))
				continue
			}
			// Failures are logged per sender inside Notify.
			_ = n.Notify(ctx, event, title, body)
		}
	}
}

// FormatEvent renders a position event published by the ledger as a title
// and a body of "key: value" lines in key order.
func FormatEvent(data []byte) (event, title, body string, err error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", "", "", fmt.Errorf("decode event: %w", err)
	}
	event, _ = payload["event"].(string)
	if event == "" {
		return "", "", "", fmt.Errorf("event name missing")
	}
	delete(payload, "event")

	pair, _ := payload["asset_pair"].(string)
	side, _ := payload["side"].(string)
	title = strings.TrimSpace(fmt.Sprintf("%s %s %s", strings.ReplaceAll(event, "_", " "), side, pair))

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, payload[k])
	}
	return event, title, strings.TrimSuffix(b.String(), "\n"), nil
}
