package domain

import "context"

// OrderAPI is the slice of the brokerage API the settlement monitor needs.
//
// Implementations return ErrNotFound (wrapped) for unknown orders and
// ErrTransient (wrapped) for failures worth retrying.
type OrderAPI interface {
	ListOrdersByID(ctx context.Context, ids []string) ([]BrokerOrder, error)
	ListFills(ctx context.Context, orderID string) ([]Fill, error)
}
