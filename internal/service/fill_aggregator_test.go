package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAssembleSettlement_Empty(t *testing.T) {
	t.Parallel()

	size := dec("3")
	tests := []struct {
		name   string
		fills  []domain.Fill
		status domain.OrderStatus
		size   *decimal.Decimal
	}{
		{name: "nil fills no status", fills: nil},
		{name: "empty fills with status", fills: []domain.Fill{}, status: domain.OrderStatusCancelled},
		{name: "initial size passes through", fills: nil, status: domain.OrderStatusExpired, size: &size},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := AssembleSettlement("ord-1", tt.fills, tt.status, tt.size)
			assert.Equal(t, "ord-1", rec.OrderID)
			assert.Equal(t, tt.status, rec.Status)
			assert.Empty(t, rec.TradeID)
			assert.Empty(t, rec.AssetPair)
			assert.Zero(t, rec.Side)
			assert.True(t, rec.Quantity.IsZero())
			assert.True(t, rec.Commission.IsZero())
			assert.Equal(t, tt.size, rec.InitialSize)
		})
	}
}

func TestAssembleSettlement_WeightedPrice(t *testing.T) {
	t.Parallel()

	fills := []domain.Fill{
		{TradeID: "t-1", Side: "BUY", ProductID: "BTC-USD", TradeTime: "2024-03-01T10:00:00.5+02:00", Price: "50000", Size: "1.5", Commission: "75"},
		{TradeID: "t-2", Side: "BUY", ProductID: "BTC-USD", TradeTime: "2024-03-01T10:00:01Z", Price: "55000", Size: "0.5", Commission: "25"},
	}

	rec := AssembleSettlement("ord-2", fills, "", nil)

	assert.True(t, dec("51250").Equal(rec.Price), "price %s", rec.Price)
	assert.True(t, dec("2.0").Equal(rec.Quantity), "quantity %s", rec.Quantity)
	assert.True(t, dec("100").Equal(rec.Commission), "commission %s", rec.Commission)
	assert.Equal(t, domain.OrderStatusFilled, rec.Status)
	assert.Equal(t, "t-1", rec.TradeID)
	assert.Equal(t, domain.OrderSideBuy, rec.Side)
	assert.Equal(t, "BTC-USD", rec.AssetPair)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 500_000_000, time.UTC), rec.SettledAt)
	assert.Equal(t, time.UTC, rec.SettledAt.Location())
}

func TestAssembleSettlement_FirstFillWins(t *testing.T) {
	t.Parallel()

	fills := []domain.Fill{
		{TradeID: "late", Side: "SELL", ProductID: "ETH-USD", TradeTime: "2024-03-02T00:00:00Z", Price: "10", Size: "1"},
		{TradeID: "early", Side: "BUY", ProductID: "BTC-USD", TradeTime: "2024-03-01T00:00:00Z", Price: "20", Size: "1"},
	}

	rec := AssembleSettlement("ord-3", fills, domain.OrderStatusCancelled, nil)

	assert.Equal(t, "late", rec.TradeID)
	assert.Equal(t, domain.OrderSideSell, rec.Side)
	assert.Equal(t, "ETH-USD", rec.AssetPair)
	assert.Equal(t, domain.OrderStatusCancelled, rec.Status)
	assert.True(t, dec("15").Equal(rec.Price))
}

func TestAssembleSettlement_SkipsUnparsable(t *testing.T) {
	t.Parallel()

	fills := []domain.Fill{
		{TradeID: "t-1", Side: "SELL", ProductID: "BTC-USD", TradeTime: "not a time", Price: "100", Size: "2", Commission: "oops"},
		{TradeID: "t-2", Side: "SELL", ProductID: "BTC-USD", Price: "abc", Size: "1", Commission: "0.5"},
		{TradeID: "t-3", Side: "SELL", ProductID: "BTC-USD", Price: "300", Size: "", Commission: "0.25"},
	}

	rec := AssembleSettlement("ord-4", fills, "", nil)

	require.True(t, rec.SettledAt.IsZero())
	assert.True(t, dec("3").Equal(rec.Quantity), "quantity %s", rec.Quantity)
	assert.True(t, dec("0.75").Equal(rec.Commission), "commission %s", rec.Commission)
	// Only the first fill has both a usable price and size.
	assert.True(t, dec("100").Equal(rec.Price), "price %s", rec.Price)
}

func TestAssembleSettlement_ZeroSize(t *testing.T) {
	t.Parallel()

	fills := []domain.Fill{{TradeID: "t-1", Side: "BUY", ProductID: "BTC-USD", Price: "100", Size: "0"}}

	rec := AssembleSettlement("ord-5", fills, "", nil)

	assert.True(t, rec.Price.IsZero())
	assert.True(t, rec.Quantity.IsZero())
}
