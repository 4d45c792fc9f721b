// Package memory provides in-process implementations of the ledger stores.
// They back the "memory" store driver and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

type ledgerState struct {
	positions  map[string]domain.Position
	opening    map[string]domain.OpeningTrade // keyed by position id
	closing    map[string][]domain.ClosingTrade
	openingIDs map[string]struct{}
	closingIDs map[string]struct{}
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		positions:  make(map[string]domain.Position),
		opening:    make(map[string]domain.OpeningTrade),
		closing:    make(map[string][]domain.ClosingTrade),
		openingIDs: make(map[string]struct{}),
		closingIDs: make(map[string]struct{}),
	}
}

func (s *ledgerState) clone() *ledgerState {
	c := newLedgerState()
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.opening {
		c.opening[k] = v
	}
	for k, v := range s.closing {
		c.closing[k] = append([]domain.ClosingTrade(nil), v...)
	}
	for k := range s.openingIDs {
		c.openingIDs[k] = struct{}{}
	}
	for k := range s.closingIDs {
		c.closingIDs[k] = struct{}{}
	}
	return c
}

// LedgerStore implements domain.LedgerStore in memory. Transactions work on a
// private copy of the ledger that replaces the shared state only on commit;
// writers are serialised.
type LedgerStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *ledgerState
}

// NewLedgerStore returns an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{state: newLedgerState()}
}

// WithTx runs fn against a snapshot of the ledger and commits the snapshot
// when fn returns nil.
func (s *LedgerStore) WithTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&ledgerTx{state: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: commit tx: %w", err)
	}

	s.mu.Lock()
	s.state = snapshot
	s.mu.Unlock()
	return nil
}

// GetPosition returns the committed position with the given id.
func (s *LedgerStore) GetPosition(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// ListOpenPositions returns open positions ordered by opening time. An empty
// assetPair matches every pair.
func (s *LedgerStore) ListOpenPositions(_ context.Context, assetPair string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.state.positions {
		if !p.IsOpen() {
			continue
		}
		if assetPair != "" && p.AssetPair != assetPair {
			continue
		}
		out = append(out, p)
	}
	sortOldestFirst(out)
	return out, nil
}

// GetOpeningTrade returns the opening trade of a position.
func (s *LedgerStore) GetOpeningTrade(_ context.Context, positionID string) (domain.OpeningTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.state.opening[positionID]
	if !ok {
		return domain.OpeningTrade{}, fmt.Errorf("memory: opening trade for %s: %w", positionID, domain.ErrNotFound)
	}
	return t, nil
}

// ListClosingTrades returns the closing trades of a position in the order
// they were recorded.
func (s *LedgerStore) ListClosingTrades(_ context.Context, positionID string) ([]domain.ClosingTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.ClosingTrade(nil), s.state.closing[positionID]...), nil
}

type ledgerTx struct {
	state *ledgerState
}

func (tx *ledgerTx) InsertPosition(_ context.Context, p domain.Position) error {
	if _, ok := tx.state.positions[p.ID]; ok {
		return fmt.Errorf("memory: insert position %s: duplicate id", p.ID)
	}
	tx.state.positions[p.ID] = p
	return nil
}

func (tx *ledgerTx) InsertOpeningTrade(_ context.Context, t domain.OpeningTrade) error {
	if _, ok := tx.state.positions[t.PositionID]; !ok {
		return fmt.Errorf("memory: insert opening trade %s: unknown position %s", t.TradeID, t.PositionID)
	}
	if _, ok := tx.state.openingIDs[t.TradeID]; ok {
		return fmt.Errorf("memory: insert opening trade %s: duplicate trade id", t.TradeID)
	}
	if _, ok := tx.state.opening[t.PositionID]; ok {
		return fmt.Errorf("memory: insert opening trade %s: position %s already has one", t.TradeID, t.PositionID)
	}
	tx.state.opening[t.PositionID] = t
	tx.state.openingIDs[t.TradeID] = struct{}{}
	return nil
}

func (tx *ledgerTx) InsertClosingTrade(_ context.Context, t domain.ClosingTrade) error {
	if _, ok := tx.state.positions[t.PositionID]; !ok {
		return fmt.Errorf("memory: insert closing trade %s: unknown position %s", t.TradeID, t.PositionID)
	}
	if _, ok := tx.state.closingIDs[t.TradeID]; ok {
		return fmt.Errorf("memory: insert closing trade %s: duplicate trade id", t.TradeID)
	}
	tx.state.closing[t.PositionID] = append(tx.state.closing[t.PositionID], t)
	tx.state.closingIDs[t.TradeID] = struct{}{}
	return nil
}

func (tx *ledgerTx) GetPositionForUpdate(_ context.Context, id string) (domain.Position, error) {
	p, ok := tx.state.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (tx *ledgerTx) OldestOpenPosition(_ context.Context, assetPair string, side domain.PositionSide) (domain.Position, error) {
	var candidates []domain.Position
	for _, p := range tx.state.positions {
		if p.IsOpen() && p.AssetPair == assetPair && p.Side == side {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return domain.Position{}, fmt.Errorf("memory: oldest open %s %s: %w", side, assetPair, domain.ErrNotFound)
	}
	sortOldestFirst(candidates)
	return candidates[0], nil
}

func (tx *ledgerTx) OpeningTradeFor(_ context.Context, positionID string) (domain.OpeningTrade, error) {
	t, ok := tx.state.opening[positionID]
	if !ok {
		return domain.OpeningTrade{}, fmt.Errorf("memory: opening trade for %s: %w", positionID, domain.ErrNotFound)
	}
	return t, nil
}

func (tx *ledgerTx) UpdatePosition(_ context.Context, p domain.Position) error {
	current, ok := tx.state.positions[p.ID]
	if !ok {
		return fmt.Errorf("memory: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	if current.Version != p.Version {
		return fmt.Errorf("memory: update position %s at version %d (stored %d): %w",
			p.ID, p.Version, current.Version, domain.ErrConflict)
	}
	p.Version++
	tx.state.positions[p.ID] = p
	return nil
}

// sortOldestFirst orders positions by opening time, then id for a stable
// order among positions opened at the same instant.
func sortOldestFirst(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].OpenedAt.Before(ps[j].OpenedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
