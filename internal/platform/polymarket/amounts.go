package polymarket

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// The CLOB rejects market orders with more precision than this: maker
// amounts take 2 decimals, taker amounts 4.
const (
	makerDecimals = 2
	takerDecimals = 4
	unitDecimals  = 6
)

// marketAmounts returns the maker and taker amounts, in base units, of a
// market order. For buys amount is USDC to spend and the taker side is
// tokens; for sells amount is tokens and the taker side is USDC. Sells never
// round up so they cannot exceed the held balance.
func marketAmounts(side domain.OrderSide, amount, price float64) (maker, taker decimal.Decimal, err error) {
	a := decimal.NewFromFloat(amount)
	p := decimal.NewFromFloat(price)
	if !a.IsPositive() {
		return maker, taker, fmt.Errorf("amount must be > 0, got %v", amount)
	}
	if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(1)) {
		return maker, taker, fmt.Errorf("price must be in (0, 1], got %v", price)
	}

	switch side {
	case domain.OrderSideBuy:
		maker = a.Round(makerDecimals)
		taker = maker.Div(p).RoundDown(takerDecimals)
	case domain.OrderSideSell:
		maker = a.RoundDown(makerDecimals)
		taker = maker.Mul(p).RoundDown(takerDecimals)
	default:
		return maker, taker, fmt.Errorf("invalid side %q", side)
	}
	if !maker.IsPositive() || !taker.IsPositive() {
		return maker, taker, fmt.Errorf("order of %v at %v rounds to zero", amount, price)
	}
	return maker.Shift(unitDecimals), taker.Shift(unitDecimals), nil
}
