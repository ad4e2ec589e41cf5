package sizing

import (
	"fmt"
	"math"
)

// CopyStrategy holds the clamps applied to a copied buy. Zero limits mean
// unlimited.
type CopyStrategy struct {
	CopyRatio          float64
	MaxOrderSizeUSD    float64
	MaxPositionSizeUSD float64
}

// CalculateOrderSize scales the trader's notional and clamps it to the order
// limit, the remaining room under the per-market position limit and the
// available balance, in that order.
func (s CopyStrategy) CalculateOrderSize(traderNotional, multiplier, balance, positionValue float64) (float64, []string) {
	amount := traderNotional * s.CopyRatio * multiplier
	notes := []string{fmt.Sprintf("base $%.2f (trader $%.2f x ratio %.2f x multiplier %.2f)",
		amount, traderNotional, s.CopyRatio, multiplier)}

	if s.MaxOrderSizeUSD > 0 && amount > s.MaxOrderSizeUSD {
		amount = s.MaxOrderSizeUSD
		notes = append(notes, fmt.Sprintf("capped to max order $%.2f", s.MaxOrderSizeUSD))
	}

	if s.MaxPositionSizeUSD > 0 {
		room := s.MaxPositionSizeUSD - positionValue
		switch {
		case room <= 0:
			amount = 0
			notes = append(notes, fmt.Sprintf("position $%.2f already at limit $%.2f", positionValue, s.MaxPositionSizeUSD))
		case amount > room:
			amount = room
			notes = append(notes, fmt.Sprintf("capped to position room $%.2f", room))
		}
	}

	if amount > balance {
		amount = math.Max(balance, 0)
		notes = append(notes, fmt.Sprintf("capped to balance $%.2f", amount))
	}
	return amount, notes
}
