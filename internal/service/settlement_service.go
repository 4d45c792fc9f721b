package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// SettleAction says what the ledger does with a settled order.
type SettleAction string

const (
	ActionOpen      SettleAction = "open"
	ActionClose     SettleAction = "close"
	ActionCloseFifo SettleAction = "close_fifo"
	ActionNone      SettleAction = "none"
)

// ParseSettleAction maps a user-supplied action name to a SettleAction. An
// empty string means ActionNone.
func ParseSettleAction(s string) (SettleAction, error) {
	switch a := SettleAction(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionNone, nil
	case ActionOpen, ActionClose, ActionCloseFifo, ActionNone:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown settle action %q", domain.ErrValidation, s)
	}
}

// SettleRequest asks for one order to be settled and booked.
type SettleRequest struct {
	OrderID      string       `json:"order_id"`
	Action       SettleAction `json:"action"`
	PositionID   string       `json:"position_id,omitempty"`
	PositionType string       `json:"position_type,omitempty"`
}

func (r SettleRequest) validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	if _, err := ParseSettleAction(string(r.Action)); err != nil {
		return err
	}
	if r.Action == ActionClose && strings.TrimSpace(r.PositionID) == "" {
		return fmt.Errorf("%w: position_id is required for action %q", domain.ErrValidation, ActionClose)
	}
	return nil
}

// SettlementOutcome is the result of a Settle call. Position is nil when the
// ledger was not touched.
type SettlementOutcome struct {
	Record   domain.SettlementRecord `json:"record"`
	Position *domain.Position        `json:"position,omitempty"`
}

// SettlementService waits for an order to settle, journals the settlement
// and books it in the position ledger.
type SettlementService struct {
	monitor *SettlementMonitor
	ledger  *PositionLedger
	journal *SettlementJournal
	logger  *slog.Logger
}

// NewSettlementService wires the settlement pipeline. journal may be nil.
func NewSettlementService(monitor *SettlementMonitor, ledger *PositionLedger, journal *SettlementJournal, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		monitor: monitor,
		ledger:  ledger,
		journal: journal,
		logger:  logger,
	}
}

// Settle monitors req.OrderID until it settles, then applies req.Action to
// the ledger. Orders that settle without any filled quantity are journaled
// but never reach the ledger. When the ledger step fails the returned
// outcome still carries the settlement record.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (SettlementOutcome, error) {
	req, err := normalise(req)
	if err != nil {
		return SettlementOutcome{}, fmt.Errorf("settlement: %w", err)
	}

	rec, err := s.monitor.Monitor(ctx, req.OrderID)
	if err != nil {
		return SettlementOutcome{}, fmt.Errorf("settlement: order %s: %w", req.OrderID, err)
	}
	return s.book(ctx, req, rec)
}

// SettleResult is the outcome of one request in a SettleMany batch.
type SettleResult struct {
	Request SettleRequest     `json:"request"`
	Outcome SettlementOutcome `json:"outcome"`
	Err     error             `json:"-"`
}

// SettleMany monitors every order concurrently, at most concurrency at a
// time, then books the settled ones one by one in request order so FIFO
// closes see the opens that precede them. Invalid requests fail without
// reaching the brokerage.
func (s *SettlementService) SettleMany(ctx context.Context, reqs []SettleRequest, concurrency int) []SettleResult {
	results := make([]SettleResult, len(reqs))

	var ids []string
	var idx []int
	for i, req := range reqs {
		norm, err := normalise(req)
		results[i].Request = norm
		if err != nil {
			results[i].Err = fmt.Errorf("settlement: %w", err)
			continue
		}
		ids = append(ids, norm.OrderID)
		idx = append(idx, i)
	}

	for j, mr := range s.monitor.MonitorMany(ctx, ids, concurrency) {
		i := idx[j]
		if mr.Err != nil {
			results[i].Err = fmt.Errorf("settlement: order %s: %w", mr.OrderID, mr.Err)
			continue
		}
		results[i].Outcome, results[i].Err = s.book(ctx, results[i].Request, mr.Record)
	}
	return results
}

// normalise parses the action and validates req.
func normalise(req SettleRequest) (SettleRequest, error) {
	action, err := ParseSettleAction(string(req.Action))
	if err != nil {
		return req, err
	}
	req.Action = action
	if err := req.validate(); err != nil {
		return req, err
	}
	return req, nil
}

// book journals a settled order and applies req.Action to the ledger.
func (s *SettlementService) book(ctx context.Context, req SettleRequest, rec domain.SettlementRecord) (SettlementOutcome, error) {
	out := SettlementOutcome{Record: rec}

	if s.journal != nil {
		s.journal.Record(ctx, rec)
	}

	if req.Action == ActionNone {
		return out, nil
	}
	if !rec.Quantity.IsPositive() {
		s.logger.InfoContext(ctx, "settlement: nothing filled, ledger untouched",
			slog.String("order_id", req.OrderID),
			slog.String("status", string(rec.Status)),
			slog.String("action", string(req.Action)),
		)
		return out, nil
	}

	var (
		pos domain.Position
		err error
	)
	switch req.Action {
	case ActionOpen:
		pos, err = s.ledger.OpenPosition(ctx, rec, req.PositionType)
	case ActionClose:
		pos, err = s.ledger.CloseAgainstPosition(ctx, rec, req.PositionID)
	case ActionCloseFifo:
		pos, err = s.ledger.CloseFifo(ctx, rec)
	}
	if err != nil {
		return out, fmt.Errorf("settlement: order %s: %w", req.OrderID, err)
	}

	out.Position = &pos
	return out, nil
}
