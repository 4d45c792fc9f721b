package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a brokerage order or fill. The zero value
// means the side is unknown (for example an empty settlement).
type OrderSide uint8

const (
	OrderSideBuy OrderSide = iota + 1
	OrderSideSell
)

// ParseOrderSide maps "BUY"/"SELL" (any case) to an OrderSide.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return OrderSideBuy, nil
	case "SELL":
		return OrderSideSell, nil
	default:
		return 0, fmt.Errorf("%w: unknown order side %q", ErrValidation, s)
	}
}

// String returns the brokerage spelling of the side.
func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return ""
	}
}

// IsValid reports whether s is one of the two known sides.
func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// MarshalText implements encoding.TextMarshaler.
func (s OrderSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string decodes
// to the zero side.
func (s *OrderSide) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParseOrderSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PositionSide is the direction of a ledger position.
type PositionSide uint8

const (
	PositionLong PositionSide = iota + 1
	PositionShort
)

// ParsePositionSide maps "LONG"/"SHORT" (any case) to a PositionSide.
func ParsePositionSide(s string) (PositionSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return PositionLong, nil
	case "SHORT":
		return PositionShort, nil
	default:
		return 0, fmt.Errorf("%w: unknown position type %q", ErrValidation, s)
	}
}

// PositionSideFor returns the side a fresh position takes when it is opened
// by an order on the given side: buys open longs, everything else shorts.
func PositionSideFor(side OrderSide) PositionSide {
	if side == OrderSideBuy {
		return PositionLong
	}
	return PositionShort
}

// ClosingSideFor returns the position side a closing order on the given
// side reduces: a sell closes longs, anything else closes shorts.
func ClosingSideFor(side OrderSide) PositionSide {
	if side == OrderSideSell {
		return PositionLong
	}
	return PositionShort
}

// String returns "LONG" or "SHORT".
func (s PositionSide) String() string {
	switch s {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	default:
		return ""
	}
}

// IsValid reports whether s is one of the two known sides.
func (s PositionSide) IsValid() bool {
	return s == PositionLong || s == PositionShort
}

// MarshalText implements encoding.TextMarshaler.
func (s PositionSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PositionSide) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = 0
		return nil
	}
	parsed, err := ParsePositionSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

var hundred = decimal.NewFromInt(100)

// PnL is the realised profit or loss of closing qty units opened at open and
// closed at closePrice.
func (s PositionSide) PnL(qty, open, closePrice decimal.Decimal) decimal.Decimal {
	switch s {
	case PositionLong:
		return closePrice.Sub(open).Mul(qty)
	case PositionShort:
		return open.Sub(closePrice).Mul(qty)
	default:
		return decimal.Zero
	}
}

// ReturnPct is the percentage return between the open and close prices.
// A zero open price yields zero.
func (s PositionSide) ReturnPct(open, closePrice decimal.Decimal) decimal.Decimal {
	if open.IsZero() {
		return decimal.Zero
	}
	switch s {
	case PositionLong:
		return closePrice.Sub(open).Div(open).Mul(hundred)
	case PositionShort:
		return open.Sub(closePrice).Div(open).Mul(hundred)
	default:
		return decimal.Zero
	}
}
