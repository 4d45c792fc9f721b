package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

// PositionLedger opens and closes positions from settlement records. Each
// operation runs in a single store transaction, so a failure at any step
// leaves the ledger exactly as it was.
type PositionLedger struct {
	store   domain.LedgerStore
	locks   domain.LockManager
	lockTTL time.Duration
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewPositionLedger creates a PositionLedger over the given store.
func NewPositionLedger(store domain.LedgerStore, logger *slog.Logger) *PositionLedger {
	return &PositionLedger{
		store:   store,
		lockTTL: defaultLockTTL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// WithLockManager serialises closes per asset pair and position side through
// lm. Without one, the store's row locks and version checks are the only
// guard against concurrent closes.
func (l *PositionLedger) WithLockManager(lm domain.LockManager, ttl time.Duration) *PositionLedger {
	l.locks = lm
	if ttl > 0 {
		l.lockTTL = ttl
	}
	return l
}

// WithEvents publishes position events on bus and appends them to audit.
// Either may be nil.
func (l *PositionLedger) WithEvents(bus domain.SignalBus, audit domain.AuditStore) *PositionLedger {
	l.bus = bus
	l.audit = audit
	return l
}

// OpenPosition creates a position and its opening trade from a settlement.
// positionType ("LONG"/"SHORT", any case) overrides the side derived from
// the settlement; pass "" to derive it.
func (l *PositionLedger) OpenPosition(ctx context.Context, rec domain.SettlementRecord, positionType string) (domain.Position, error) {
	if err := validateRecord(rec); err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: open: %w", err)
	}

	side := domain.PositionSideFor(rec.Side)
	if strings.TrimSpace(positionType) != "" {
		parsed, err := domain.ParsePositionSide(positionType)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position_ledger: open: %w", err)
		}
		side = parsed
	}

	now := l.now()
	openedAt := rec.SettledAt
	if openedAt.IsZero() {
		openedAt = now
	}

	pos := domain.Position{
		ID:               l.newID(),
		Side:             side,
		AssetPair:        rec.AssetPair,
		AcquiredPrice:    rec.Price,
		AcquiredQuantity: rec.Quantity,
		TotalCommissions: rec.Commission,
		ProfitLoss:       decimal.Zero,
		PercentageReturn: decimal.Zero,
		LeftoverQuantity: rec.Quantity,
		Closed:           false,
		OpenedAt:         openedAt,
		UpdatedAt:        now,
		Version:          1,
	}
	trade := domain.OpeningTrade{
		TradeID:    rec.TradeID,
		Side:       rec.Side,
		PositionID: pos.ID,
		AssetPair:  rec.AssetPair,
		Quantity:   rec.Quantity,
		Price:      rec.Price,
		Commission: rec.Commission,
		TradeTime:  openedAt,
	}

	err := l.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return err
		}
		return tx.InsertOpeningTrade(ctx, trade)
	})
	if err != nil {
		return domain.Position{}, l.txError(ctx, "open position", err)
	}

	l.logger.InfoContext(ctx, "position_ledger: position opened",
		slog.String("position_id", pos.ID),
		slog.String("asset_pair", pos.AssetPair),
		slog.String("side", pos.Side.String()),
		slog.String("price", pos.AcquiredPrice.String()),
		slog.String("quantity", pos.AcquiredQuantity.String()),
	)
	l.emit(ctx, "position_opened", pos, map[string]any{
		"trade_id": trade.TradeID,
		"order_id": rec.OrderID,
	})

	return pos, nil
}

// CloseAgainstPosition closes the full settlement quantity against one
// caller-chosen position.
func (l *PositionLedger) CloseAgainstPosition(ctx context.Context, rec domain.SettlementRecord, positionID string) (domain.Position, error) {
	if err := validateRecord(rec); err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: close %s: %w", positionID, err)
	}

	target, err := l.store.GetPosition(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: close %s: %w", positionID, err)
	}

	unlock, err := l.acquire(ctx, lockKey(target.AssetPair, target.Side))
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	var (
		pos     domain.Position
		closing domain.ClosingTrade
	)
	err = l.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		pos, err = tx.GetPositionForUpdate(ctx, positionID)
		if err != nil {
			return fmt.Errorf("position %s: %w", positionID, err)
		}
		if !pos.IsOpen() {
			return fmt.Errorf("%w: position %s is already closed", domain.ErrValidation, positionID)
		}
		if rec.Quantity.GreaterThan(pos.LeftoverQuantity) {
			return fmt.Errorf("%w: close quantity %s exceeds leftover %s of position %s",
				domain.ErrValidation, rec.Quantity, pos.LeftoverQuantity, positionID)
		}
		opening, err := openingTradeFor(ctx, tx, positionID)
		if err != nil {
			return err
		}

		closing = domain.ClosingTrade{
			TradeID:        rec.TradeID,
			PositionID:     pos.ID,
			OpeningTradeID: opening.TradeID,
			AssetPair:      rec.AssetPair,
			Quantity:       rec.Quantity,
			Price:          rec.Price,
			Commission:     rec.Commission,
			TradeTime:      l.tradeTime(rec),
		}
		return l.applyClose(ctx, tx, &pos, closing)
	})
	if err != nil {
		return domain.Position{}, l.txError(ctx, "close position "+positionID, err)
	}

	l.logClose(ctx, pos, closing)
	l.emitClose(ctx, pos, closing, rec.OrderID)
	return pos, nil
}

// CloseFifo closes the settlement quantity against the oldest open positions
// on the same asset pair, draining each before moving to the next. The
// commission is split across positions in proportion to the quantity each
// absorbs. It returns the last position touched.
func (l *PositionLedger) CloseFifo(ctx context.Context, rec domain.SettlementRecord) (domain.Position, error) {
	if err := validateRecord(rec); err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: fifo close: %w", err)
	}

	side := domain.ClosingSideFor(rec.Side)
	unlock, err := l.acquire(ctx, lockKey(rec.AssetPair, side))
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	type leg struct {
		pos     domain.Position
		closing domain.ClosingTrade
	}
	var legs []leg

	err = l.store.WithTx(ctx, func(tx domain.LedgerTx) error {
		legs = legs[:0]
		remaining := rec.Quantity
		allocated := decimal.Zero
		tradeTime := l.tradeTime(rec)

		for remaining.IsPositive() {
			pos, err := tx.OldestOpenPosition(ctx, rec.AssetPair, side)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("no open %s position on %s for remaining quantity %s: %w",
						side, rec.AssetPair, remaining, domain.ErrNotFound)
				}
				return err
			}
			opening, err := openingTradeFor(ctx, tx, pos.ID)
			if err != nil {
				return err
			}

			closeQty := decimal.Min(remaining, pos.LeftoverQuantity)
			// The last slice takes whatever is left so the slices sum to
			// the record's commission exactly.
			commission := rec.Commission.Sub(allocated)
			if closeQty.LessThan(remaining) {
				commission = rec.Commission.Mul(closeQty).Div(rec.Quantity)
			}
			allocated = allocated.Add(commission)

			closing := domain.ClosingTrade{
				TradeID:        rec.TradeID + "_" + pos.ID,
				PositionID:     pos.ID,
				OpeningTradeID: opening.TradeID,
				AssetPair:      rec.AssetPair,
				Quantity:       closeQty,
				Price:          rec.Price,
				Commission:     commission,
				TradeTime:      tradeTime,
			}
			if err := l.applyClose(ctx, tx, &pos, closing); err != nil {
				return err
			}

			legs = append(legs, leg{pos: pos, closing: closing})
			remaining = remaining.Sub(closeQty)
		}

		if len(legs) == 0 {
			return fmt.Errorf("%w: fifo close of %s matched no positions", domain.ErrInternal, rec.TradeID)
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, l.txError(ctx, "fifo close "+rec.AssetPair, err)
	}

	for _, s := range legs {
		l.logClose(ctx, s.pos, s.closing)
		l.emitClose(ctx, s.pos, s.closing, rec.OrderID)
	}
	return legs[len(legs)-1].pos, nil
}

// ListOpenPositions returns open positions, oldest first. An empty assetPair
// lists every pair.
func (l *PositionLedger) ListOpenPositions(ctx context.Context, assetPair string) ([]domain.Position, error) {
	positions, err := l.store.ListOpenPositions(ctx, assetPair)
	if err != nil {
		return nil, fmt.Errorf("position_ledger: list open %q: %w", assetPair, err)
	}
	return positions, nil
}

// GetPosition returns one position by id.
func (l *PositionLedger) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	pos, err := l.store.GetPosition(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_ledger: get %s: %w", id, err)
	}
	return pos, nil
}

// ListClosingTrades returns the closing trades recorded against a position.
func (l *PositionLedger) ListClosingTrades(ctx context.Context, positionID string) ([]domain.ClosingTrade, error) {
	if _, err := l.store.GetPosition(ctx, positionID); err != nil {
		return nil, fmt.Errorf("position_ledger: closing trades %s: %w", positionID, err)
	}
	trades, err := l.store.ListClosingTrades(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("position_ledger: closing trades %s: %w", positionID, err)
	}
	return trades, nil
}

// applyClose records the closing trade and writes the reduced position.
func (l *PositionLedger) applyClose(ctx context.Context, tx domain.LedgerTx, pos *domain.Position, closing domain.ClosingTrade) error {
	if err := tx.InsertClosingTrade(ctx, closing); err != nil {
		return err
	}
	pos.ApplyClose(closing.Quantity, closing.Price, closing.Commission, l.now())
	if err := tx.UpdatePosition(ctx, *pos); err != nil {
		return err
	}
	pos.Version++
	return nil
}

func openingTradeFor(ctx context.Context, tx domain.LedgerTx, positionID string) (domain.OpeningTrade, error) {
	opening, err := tx.OpeningTradeFor(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OpeningTrade{}, fmt.Errorf("%w: position %s has no opening trade", domain.ErrLedgerIntegrity, positionID)
		}
		return domain.OpeningTrade{}, err
	}
	return opening, nil
}

func (l *PositionLedger) tradeTime(rec domain.SettlementRecord) time.Time {
	if rec.SettledAt.IsZero() {
		return l.now()
	}
	return rec.SettledAt
}

// txError classifies an error returned from a rolled-back transaction.
// Anything the ledger did not classify itself came from the store.
func (l *PositionLedger) txError(ctx context.Context, op string, err error) error {
	if domain.IsLedgerError(err) {
		return fmt.Errorf("position_ledger: %s: %w", op, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("position_ledger: %s: %w: %w", op, domain.ErrCancelled, err)
	}
	return fmt.Errorf("position_ledger: %s: %w: %w", op, domain.ErrPersistence, err)
}

// acquire takes the ledger lock for key, retrying while another writer
// holds it, for up to the lock TTL.
func (l *PositionLedger) acquire(ctx context.Context, key string) (func(), error) {
	if l.locks == nil {
		return func() {}, nil
	}

	deadline := time.Now().Add(l.lockTTL)
	for {
		unlock, err := l.locks.Acquire(ctx, key, l.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("position_ledger: lock %s: %w", key, err)
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("position_ledger: lock %s: %w", key, domain.ErrCancelled)
		case <-timer.C:
		}
	}
}

func lockKey(assetPair string, side domain.PositionSide) string {
	return "ledger:" + assetPair + ":" + side.String()
}

// validateRecord checks the fields every ledger operation needs.
func validateRecord(rec domain.SettlementRecord) error {
	var missing []string
	if !rec.Side.IsValid() {
		missing = append(missing, "side")
	}
	if strings.TrimSpace(rec.AssetPair) == "" {
		missing = append(missing, "asset_pair")
	}
	if !rec.Price.IsPositive() {
		missing = append(missing, "price")
	}
	if !rec.Quantity.IsPositive() {
		missing = append(missing, "quantity")
	}
	if rec.Commission.IsNegative() {
		missing = append(missing, "commission")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: settlement %s missing or invalid: %s",
			domain.ErrValidation, rec.OrderID, strings.Join(missing, ", "))
	}
	return nil
}

func (l *PositionLedger) logClose(ctx context.Context, pos domain.Position, closing domain.ClosingTrade) {
	l.logger.InfoContext(ctx, "position_ledger: position reduced",
		slog.String("position_id", pos.ID),
		slog.String("trade_id", closing.TradeID),
		slog.String("quantity", closing.Quantity.String()),
		slog.String("price", closing.Price.String()),
		slog.String("leftover", pos.LeftoverQuantity.String()),
		slog.Bool("closed", pos.Closed),
	)
}

func (l *PositionLedger) emitClose(ctx context.Context, pos domain.Position, closing domain.ClosingTrade, orderID string) {
	event := "position_reduced"
	if pos.Closed {
		event = "position_closed"
	}
	l.emit(ctx, event, pos, map[string]any{
		"trade_id":   closing.TradeID,
		"order_id":   orderID,
		"quantity":   closing.Quantity.String(),
		"price":      closing.Price.String(),
		"commission": closing.Commission.String(),
	})
}

// emit publishes a position event and writes it to the audit log. Both are
// best effort: the ledger write has already committed.
func (l *PositionLedger) emit(ctx context.Context, event string, pos domain.Position, extra map[string]any) {
	if l.bus == nil && l.audit == nil {
		return
	}

	detail := map[string]any{
		"position_id":       pos.ID,
		"asset_pair":        pos.AssetPair,
		"side":              pos.Side.String(),
		"leftover_quantity": pos.LeftoverQuantity.String(),
		"profit_loss":       pos.ProfitLoss.String(),
		"percentage_return": pos.PercentageReturn.String(),
		"closed":            pos.Closed,
	}
	for k, v := range extra {
		detail[k] = v
	}

	if l.bus != nil {
		payload := map[string]any{"event": event}
		for k, v := range detail {
			payload[k] = v
		}
		l.publish(ctx, event, pos.ID, payload)
	}

	if l.audit != nil {
		if err := l.audit.Log(ctx, event, detail); err != nil {
			l.logger.WarnContext(ctx, "position_ledger: audit log failed",
				slog.String("position_id", pos.ID),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *PositionLedger) publish(ctx context.Context, event, positionID string, payload map[string]any) {
	evt, err := json.Marshal(payload)
	if err != nil {
		l.logger.ErrorContext(ctx, "position_ledger: marshal event",
			slog.String("position_id", positionID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := l.bus.Publish(ctx, domain.ChannelPositions, evt); err != nil {
		l.logger.WarnContext(ctx, "position_ledger: publish event failed",
			slog.String("position_id", positionID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
