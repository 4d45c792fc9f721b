package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// ledgerTx implements domain.LedgerTx on an open pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, side, asset_pair, acquired_price, acquired_quantity,
			total_commissions, profit_loss, percentage_return, leftover_quantity,
			closed, opened_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.tx.Exec(ctx, query,
		p.ID, p.Side.String(), p.AssetPair, p.AcquiredPrice, p.AcquiredQuantity,
		p.TotalCommissions, p.ProfitLoss, p.PercentageReturn, p.LeftoverQuantity,
		p.Closed, p.OpenedAt, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

func (t *ledgerTx) InsertOpeningTrade(ctx context.Context, tr domain.OpeningTrade) error {
	const query = `
		INSERT INTO opening_trades (
			trade_id, side, position_id, asset_pair, quantity, price, commission, trade_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.Exec(ctx, query,
		tr.TradeID, tr.Side.String(), tr.PositionID, tr.AssetPair,
		tr.Quantity, tr.Price, tr.Commission, tr.TradeTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opening trade %s: %w", tr.TradeID, err)
	}
	return nil
}

func (t *ledgerTx) InsertClosingTrade(ctx context.Context, tr domain.ClosingTrade) error {
	const query = `
		INSERT INTO closing_trades (
			trade_id, position_id, opening_trade_id, asset_pair, quantity, price, commission, trade_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.Exec(ctx, query,
		tr.TradeID, tr.PositionID, tr.OpeningTradeID, tr.AssetPair,
		tr.Quantity, tr.Price, tr.Commission, tr.TradeTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closing trade %s: %w", tr.TradeID, err)
	}
	return nil
}

// GetPositionForUpdate row-locks the position until the transaction ends.
func (t *ledgerTx) GetPositionForUpdate(ctx context.Context, id string) (domain.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1 FOR UPDATE`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: lock position %s: %w", id, err)
	}
	return p, nil
}

// OldestOpenPosition locks and returns the earliest open position on the
// pair and side.
func (t *ledgerTx) OldestOpenPosition(ctx context.Context, assetPair string, side domain.PositionSide) (domain.Position, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+positionSelectCols+` FROM positions
		WHERE asset_pair = $1 AND side = $2 AND closed = FALSE AND leftover_quantity > 0
		ORDER BY opened_at ASC, id ASC
		LIMIT 1
		FOR UPDATE`,
		assetPair, side.String(),
	)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: oldest open %s %s: %w", side, assetPair, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: oldest open %s %s: %w", side, assetPair, err)
	}
	return p, nil
}

func (t *ledgerTx) OpeningTradeFor(ctx context.Context, positionID string) (domain.OpeningTrade, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+openingSelectCols+` FROM opening_trades WHERE position_id = $1`, positionID)

	tr, err := scanOpeningTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OpeningTrade{}, fmt.Errorf("postgres: opening trade for %s: %w", positionID, domain.ErrNotFound)
		}
		return domain.OpeningTrade{}, fmt.Errorf("postgres: opening trade for %s: %w", positionID, err)
	}
	return tr, nil
}

// UpdatePosition writes the mutable position columns guarded by the
// optimistic version.
func (t *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			total_commissions = $2,
			profit_loss = $3,
			percentage_return = $4,
			leftover_quantity = $5,
			closed = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $8`

	tag, err := t.tx.Exec(ctx, query,
		p.ID, p.TotalCommissions, p.ProfitLoss, p.PercentageReturn,
		p.LeftoverQuantity, p.Closed, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s at version %d: %w", p.ID, p.Version, domain.ErrConflict)
	}
	return nil
}

var _ domain.LedgerTx = (*ledgerTx)(nil)
