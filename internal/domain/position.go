package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a single-asset long or short holding built from one opening
// settlement and reduced by closing settlements.
type Position struct {
	ID               string          `json:"id"`
	Side             PositionSide    `json:"side"`
	AssetPair        string          `json:"asset_pair"`
	AcquiredPrice    decimal.Decimal `json:"acquired_price"`
	AcquiredQuantity decimal.Decimal `json:"acquired_quantity"`
	TotalCommissions decimal.Decimal `json:"total_commissions"`
	ProfitLoss       decimal.Decimal `json:"profit_loss"`
	PercentageReturn decimal.Decimal `json:"percentage_return"`
	LeftoverQuantity decimal.Decimal `json:"leftover_quantity"`
	Closed           bool            `json:"closed"`
	OpenedAt         time.Time       `json:"opened_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int64           `json:"version"`
}

// IsOpen reports whether the position still has quantity to close.
func (p Position) IsOpen() bool {
	return !p.Closed && p.LeftoverQuantity.IsPositive()
}

// ApplyClose reduces the position by qty closed at closePrice and adds the
// commission paid for it. The percentage return is replaced, not averaged,
// so it always reflects the most recent closing price.
func (p *Position) ApplyClose(qty, closePrice, commission decimal.Decimal, at time.Time) {
	p.LeftoverQuantity = p.LeftoverQuantity.Sub(qty)
	p.TotalCommissions = p.TotalCommissions.Add(commission)
	p.ProfitLoss = p.ProfitLoss.Add(p.Side.PnL(qty, p.AcquiredPrice, closePrice))
	p.PercentageReturn = p.Side.ReturnPct(p.AcquiredPrice, closePrice)
	p.Closed = !p.LeftoverQuantity.IsPositive()
	p.UpdatedAt = at
}

// OpeningTrade records the settlement that created a position.
type OpeningTrade struct {
	TradeID    string          `json:"trade_id"`
	Side       OrderSide       `json:"side"`
	PositionID string          `json:"position_id"`
	AssetPair  string          `json:"asset_pair"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	TradeTime  time.Time       `json:"trade_time"`
}

// ClosingTrade records one reduction of a position.
type ClosingTrade struct {
	TradeID        string          `json:"trade_id"`
	PositionID     string          `json:"position_id"`
	OpeningTradeID string          `json:"opening_trade_id"`
	AssetPair      string          `json:"asset_pair"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Commission     decimal.Decimal `json:"commission"`
	TradeTime      time.Time       `json:"trade_time"`
}
