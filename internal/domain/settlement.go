package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the brokerage-reported state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further fills can occur in this state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsKnown reports whether s is one of the recognised states.
func (s OrderStatus) IsKnown() bool {
	return s == OrderStatusOpen || s.IsTerminal()
}

// BrokerOrder is an order as reported by the brokerage order API.
type BrokerOrder struct {
	ID        string
	Status    OrderStatus
	Size      string // raw decimal string, may be empty
	Side      string
	ProductID string
	EndTime   *time.Time // set for good-til-date orders
}

// Fill is one execution of an order, carrying the raw values the brokerage
// returned. Numeric fields are parsed leniently during aggregation.
type Fill struct {
	TradeID    string `json:"trade_id"`
	Side       string `json:"side"`
	ProductID  string `json:"product_id"`
	TradeTime  string `json:"trade_time"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Commission string `json:"commission"`
}

// SettlementRecord is the aggregate of every fill belonging to one order.
type SettlementRecord struct {
	OrderID     string           `json:"order_id"`
	TradeID     string           `json:"trade_id"`
	Side        OrderSide        `json:"side"`
	AssetPair   string           `json:"asset_pair"`
	SettledAt   time.Time        `json:"settled_at"`
	Price       decimal.Decimal  `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Commission  decimal.Decimal  `json:"commission"`
	InitialSize *decimal.Decimal `json:"initial_size,omitempty"`
	Status      OrderStatus      `json:"status"`
}
