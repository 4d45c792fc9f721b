package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// AssembleSettlement reduces the fills of one order into a settlement record.
// It never fails: unparsable numeric fields are skipped and an empty fill
// list yields a zero-quantity record carrying only the order id, status and
// initial size.
//
// Identity fields (trade id, side, asset pair, settled time) come from the
// first fill as given; the caller decides the order.
func AssembleSettlement(orderID string, fills []domain.Fill, status domain.OrderStatus, initialSize *decimal.Decimal) domain.SettlementRecord {
	rec := domain.SettlementRecord{
		OrderID:     orderID,
		Status:      status,
		InitialSize: initialSize,
	}
	if len(fills) == 0 {
		return rec
	}

	first := fills[0]
	rec.TradeID = first.TradeID
	rec.AssetPair = first.ProductID
	if side, err := domain.ParseOrderSide(first.Side); err == nil {
		rec.Side = side
	}
	if rec.Status == "" {
		rec.Status = domain.OrderStatusFilled
	}
	rec.SettledAt = parseTradeTime(first.TradeTime)

	var notional, weight, quantity, commission decimal.Decimal
	for _, f := range fills {
		if c, err := decimal.NewFromString(f.Commission); err == nil {
			commission = commission.Add(c)
		}
		size, err := decimal.NewFromString(f.Size)
		if err != nil {
			continue
		}
		quantity = quantity.Add(size)
		if price, err := decimal.NewFromString(f.Price); err == nil {
			notional = notional.Add(price.Mul(size))
			weight = weight.Add(size)
		}
	}

	rec.Quantity = quantity
	rec.Commission = commission
	if !weight.IsZero() {
		rec.Price = notional.Div(weight)
	}
	return rec
}

// parseTradeTime accepts the RFC3339 variants brokerages emit and returns
// the zero time when none match.
func parseTradeTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
