package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const positionSelectCols = `id, side, asset_pair, acquired_price, acquired_quantity,
	total_commissions, profit_loss, percentage_return, leftover_quantity,
	closed, opened_at, updated_at, version`

const openingSelectCols = `trade_id, side, position_id, asset_pair, quantity, price, commission, trade_time`

const closingSelectCols = `trade_id, position_id, opening_trade_id, asset_pair, quantity, price, commission, trade_time`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side string

	err := row.Scan(
		&p.ID, &side, &p.AssetPair,
		&p.AcquiredPrice, &p.AcquiredQuantity,
		&p.TotalCommissions, &p.ProfitLoss, &p.PercentageReturn, &p.LeftoverQuantity,
		&p.Closed, &p.OpenedAt, &p.UpdatedAt, &p.Version,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if p.Side, err = domain.ParsePositionSide(side); err != nil {
		return domain.Position{}, fmt.Errorf("%w: position %s: %w", domain.ErrLedgerIntegrity, p.ID, err)
	}
	return p, nil
}

func scanOpeningTrade(row pgx.Row) (domain.OpeningTrade, error) {
	var t domain.OpeningTrade
	var side string

	err := row.Scan(&t.TradeID, &side, &t.PositionID, &t.AssetPair,
		&t.Quantity, &t.Price, &t.Commission, &t.TradeTime)
	if err != nil {
		return domain.OpeningTrade{}, err
	}
	if t.Side, err = domain.ParseOrderSide(side); err != nil {
		return domain.OpeningTrade{}, fmt.Errorf("%w: opening trade %s: %w", domain.ErrLedgerIntegrity, t.TradeID, err)
	}
	return t, nil
}

// WithTx runs fn inside a single database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *LedgerStore) WithTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

// GetPosition retrieves a single position by its ID.
func (s *LedgerStore) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpenPositions returns open positions, oldest first. An empty assetPair
// matches every pair.
func (s *LedgerStore) ListOpenPositions(ctx context.Context, assetPair string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE closed = FALSE AND leftover_quantity > 0`
	args := []any{}
	if assetPair != "" {
		query += ` AND asset_pair = $1`
		args = append(args, assetPair)
	}
	query += ` ORDER BY opened_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return positions, nil
}

// GetOpeningTrade returns the opening trade recorded for a position.
func (s *LedgerStore) GetOpeningTrade(ctx context.Context, positionID string) (domain.OpeningTrade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+openingSelectCols+` FROM opening_trades WHERE position_id = $1`, positionID)

	t, err := scanOpeningTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OpeningTrade{}, fmt.Errorf("postgres: opening trade for %s: %w", positionID, domain.ErrNotFound)
		}
		return domain.OpeningTrade{}, fmt.Errorf("postgres: get opening trade for %s: %w", positionID, err)
	}
	return t, nil
}

// ListClosingTrades returns the closing trades of a position in the order
// they were recorded.
func (s *LedgerStore) ListClosingTrades(ctx context.Context, positionID string) ([]domain.ClosingTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+closingSelectCols+` FROM closing_trades WHERE position_id = $1 ORDER BY seq ASC`,
		positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closing trades for %s: %w", positionID, err)
	}
	defer rows.Close()

	var trades []domain.ClosingTrade
	for rows.Next() {
		var t domain.ClosingTrade
		if err := rows.Scan(&t.TradeID, &t.PositionID, &t.OpeningTradeID, &t.AssetPair,
			&t.Quantity, &t.Price, &t.Commission, &t.TradeTime); err != nil {
			return nil, fmt.Errorf("postgres: scan closing trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closing trades rows: %w", err)
	}
	return trades, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
