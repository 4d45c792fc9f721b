package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// MonitorConfig bounds a settlement monitor run.
type MonitorConfig struct {
	// PollInterval is the delay between order status checks.
	PollInterval time.Duration
	// Timeout is the overall deadline for one Monitor call, measured from
	// its first fetch.
	Timeout time.Duration
}

// SettlementMonitor watches a brokerage order until it reaches a terminal
// state and assembles its fills into a settlement record. A monitor holds no
// per-order state, so one instance can watch many orders concurrently.
type SettlementMonitor struct {
	api    domain.OrderAPI
	cfg    MonitorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSettlementMonitor creates a SettlementMonitor over the given order API.
func NewSettlementMonitor(api domain.OrderAPI, cfg MonitorConfig, logger *slog.Logger) *SettlementMonitor {
	return &SettlementMonitor{
		api:    api,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Monitor polls the order until it settles and returns the aggregated fills.
//
// Cancelling ctx ends the run with domain.ErrCancelled. Running past the
// configured timeout, or past the order's good-til-date end time, ends it
// with domain.ErrTimeout. Transient API failures are retried until the
// timeout; an unknown order status is returned immediately.
func (m *SettlementMonitor) Monitor(ctx context.Context, orderID string) (domain.SettlementRecord, error) {
	deadline := m.now().Add(m.cfg.Timeout)
	log := m.logger.With(slog.String("order_id", orderID))

	// API calls run on fetchCtx so a stalled request cannot outlive the
	// timeout. ctx alone decides cancellation.
	fetchCtx, cancel := m.fetchContext(ctx)
	defer cancel()

	order, err := m.fetchOrder(fetchCtx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnknownStatus) {
			return domain.SettlementRecord{}, err
		}
		if stop := m.interrupted(ctx, fetchCtx, orderID); stop != nil {
			return domain.SettlementRecord{}, stop
		}
		log.WarnContext(ctx, "settlement_monitor: initial fetch failed, polling",
			slog.String("error", err.Error()),
		)
	} else {
		if expired, at := m.gtdExpired(order); expired {
			return domain.SettlementRecord{}, fmt.Errorf("settlement_monitor: order %s: %w: good-til-date expired at %s",
				orderID, domain.ErrTimeout, at.Format(time.RFC3339))
		}
		if order.Status.IsTerminal() {
			return m.settle(ctx, fetchCtx, order, deadline)
		}
	}

	for {
		if ctx.Err() != nil {
			return domain.SettlementRecord{}, m.cancelled(orderID)
		}
		if err := m.sleep(ctx); err != nil {
			return domain.SettlementRecord{}, m.cancelled(orderID)
		}
		if !m.now().Before(deadline) {
			return domain.SettlementRecord{}, m.timedOut(orderID)
		}

		order, err = m.fetchOrder(fetchCtx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnknownStatus) {
				return domain.SettlementRecord{}, err
			}
			if stop := m.interrupted(ctx, fetchCtx, orderID); stop != nil {
				return domain.SettlementRecord{}, stop
			}
			log.WarnContext(ctx, "settlement_monitor: fetch failed, retrying",
				slog.String("error", err.Error()),
			)
			continue
		}

		if expired, at := m.gtdExpired(order); expired && !order.Status.IsTerminal() {
			return domain.SettlementRecord{}, fmt.Errorf("settlement_monitor: order %s: %w: good-til-date expired at %s before settling",
				orderID, domain.ErrTimeout, at.Format(time.RFC3339))
		}
		if order.Status.IsTerminal() {
			return m.settle(ctx, fetchCtx, order, deadline)
		}

		log.DebugContext(ctx, "settlement_monitor: order still open")
	}
}

// fetchOrder loads one order and checks its status is recognised.
func (m *SettlementMonitor) fetchOrder(ctx context.Context, orderID string) (domain.BrokerOrder, error) {
	orders, err := m.api.ListOrdersByID(ctx, []string{orderID})
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("settlement_monitor: fetch order %s: %w", orderID, err)
	}
	for _, o := range orders {
		if o.ID != orderID {
			continue
		}
		if !o.Status.IsKnown() {
			return domain.BrokerOrder{}, fmt.Errorf("settlement_monitor: order %s: %w %q", orderID, domain.ErrUnknownStatus, o.Status)
		}
		return o, nil
	}
	return domain.BrokerOrder{}, fmt.Errorf("settlement_monitor: order %s: %w", orderID, domain.ErrNotFound)
}

// settle fetches the fills of a terminal order and aggregates them. Fill
// fetches share the run's deadline and retry policy.
func (m *SettlementMonitor) settle(ctx, fetchCtx context.Context, order domain.BrokerOrder, deadline time.Time) (domain.SettlementRecord, error) {
	for {
		fills, err := m.api.ListFills(fetchCtx, order.ID)
		if err == nil {
			rec := AssembleSettlement(order.ID, fills, order.Status, parseSize(order.Size))
			m.logger.InfoContext(ctx, "settlement_monitor: order settled",
				slog.String("order_id", order.ID),
				slog.String("status", string(rec.Status)),
				slog.String("quantity", rec.Quantity.String()),
				slog.String("price", rec.Price.String()),
				slog.Int("fills", len(fills)),
			)
			return rec, nil
		}
		if stop := m.interrupted(ctx, fetchCtx, order.ID); stop != nil {
			return domain.SettlementRecord{}, stop
		}
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementRecord{}, fmt.Errorf("settlement_monitor: fills for %s: %w", order.ID, err)
		}
		m.logger.WarnContext(ctx, "settlement_monitor: fetch fills failed, retrying",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		if err := m.sleep(ctx); err != nil {
			return domain.SettlementRecord{}, m.cancelled(order.ID)
		}
		if !m.now().Before(deadline) {
			return domain.SettlementRecord{}, m.timedOut(order.ID)
		}
	}
}

// fetchContext bounds API calls by the configured timeout in wall-clock time.
func (m *SettlementMonitor) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.Timeout)
}

// interrupted classifies a failed fetch: the caller cancelling wins over the
// fetch deadline. It returns nil when the failure is worth retrying.
func (m *SettlementMonitor) interrupted(ctx, fetchCtx context.Context, orderID string) error {
	if ctx.Err() != nil {
		return m.cancelled(orderID)
	}
	if fetchCtx.Err() != nil {
		return m.timedOut(orderID)
	}
	return nil
}

func (m *SettlementMonitor) sleep(ctx context.Context) error {
	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *SettlementMonitor) gtdExpired(order domain.BrokerOrder) (bool, time.Time) {
	if order.EndTime == nil {
		return false, time.Time{}
	}
	return !m.now().Before(*order.EndTime), *order.EndTime
}

func (m *SettlementMonitor) cancelled(orderID string) error {
	return fmt.Errorf("settlement_monitor: order %s: %w", orderID, domain.ErrCancelled)
}

func (m *SettlementMonitor) timedOut(orderID string) error {
	return fmt.Errorf("settlement_monitor: order %s: %w after %s", orderID, domain.ErrTimeout, m.cfg.Timeout)
}

// parseSize returns nil when the order size is missing or malformed.
func parseSize(s string) *decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &v
}

// MonitorResult is the outcome of monitoring one order in a batch.
type MonitorResult struct {
	OrderID string
	Record  domain.SettlementRecord
	Err     error
}

// MonitorMany monitors several orders concurrently, at most concurrency at
// a time (unbounded when concurrency <= 0). One order failing does not stop
// the others; results are returned in input order.
func (m *SettlementMonitor) MonitorMany(ctx context.Context, orderIDs []string, concurrency int) []MonitorResult {
	results := make([]MonitorResult, len(orderIDs))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, id := range orderIDs {
		g.Go(func() error {
			rec, err := m.Monitor(ctx, id)
			results[i] = MonitorResult{OrderID: id, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
