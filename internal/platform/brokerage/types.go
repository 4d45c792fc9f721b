package brokerage

import (
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// apiOrder is an order as returned by the historical orders endpoint.
type apiOrder struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Side      string `json:"side"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	EndTime   string `json:"end_time"` // RFC3339, empty unless good-til-date
}

type ordersResponse struct {
	Orders []apiOrder `json:"orders"`
}

// apiFill mirrors domain.Fill; the brokerage sends every number as a string.
type apiFill struct {
	TradeID    string `json:"trade_id"`
	Side       string `json:"side"`
	ProductID  string `json:"product_id"`
	TradeTime  string `json:"trade_time"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Commission string `json:"commission"`
}

type fillsResponse struct {
	Fills  []apiFill `json:"fills"`
	Cursor string    `json:"cursor"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (o apiOrder) toDomain() domain.BrokerOrder {
	return domain.BrokerOrder{
		ID:        o.OrderID,
		Status:    normaliseStatus(o.Status),
		Size:      o.Size,
		Side:      o.Side,
		ProductID: o.ProductID,
		EndTime:   parseEndTime(o.EndTime),
	}
}

func (f apiFill) toDomain() domain.Fill {
	return domain.Fill{
		TradeID:    f.TradeID,
		Side:       f.Side,
		ProductID:  f.ProductID,
		TradeTime:  f.TradeTime,
		Price:      f.Price,
		Size:       f.Size,
		Commission: f.Commission,
	}
}

// normaliseStatus upper-cases the status and folds the American spelling of
// cancelled. Anything else passes through so the monitor can reject it.
func normaliseStatus(s string) domain.OrderStatus {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "CANCELED" {
		return domain.OrderStatusCancelled
	}
	return domain.OrderStatus(s)
}

// parseEndTime returns nil for a missing, zero or malformed end time.
func parseEndTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.IsZero() || t.Year() <= 1 {
		return nil
	}
	return &t
}
