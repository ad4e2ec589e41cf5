// Package slippage derives the price band a buy may fill within from the
// live order book.
package slippage

import (
	"math"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	// MaxTolerancePercent caps the dynamic tolerance.
	MaxTolerancePercent = 25.0

	depthLevels          = 5
	highVolatilitySpread = 10.0
	wideSpread           = 20.0
	thinDepthUSD         = 50.0
	shallowDepthUSD      = 100.0
)

// Volatility is the coarse market state derived from the spread.
type Volatility string

const (
	VolatilityLow  Volatility = "low"
	VolatilityHigh Volatility = "high"
)

// Conditions summarizes an order book for tolerance purposes.
type Conditions struct {
	SpreadPercent float64
	DepthUSD      float64
	Volatility    Volatility
}

// Analyze computes spread, ask-side depth and volatility. The spread is 100%
// when either side is empty or has a non-positive best price.
func Analyze(book domain.OrderBook) Conditions {
	spread := 100.0
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if hasBid && hasAsk && bid.Price > 0 && ask.Price > 0 {
		spread = (ask.Price - bid.Price) / bid.Price * 100
	}

	var depth float64
	for i, level := range book.AsksAscending() {
		if i == depthLevels {
			break
		}
		depth += level.Notional()
	}

	vol := VolatilityLow
	if spread > highVolatilitySpread {
		vol = VolatilityHigh
	}
	return Conditions{SpreadPercent: spread, DepthUSD: depth, Volatility: vol}
}

// Model holds the configured base tolerances and relaxation policy.
type Model struct {
	HighVolatilityPercent float64
	LowVolatilityPercent  float64
	RetryEnabled          bool
	RelaxationPercent     float64
}

// Dynamic returns the tolerance in percent for the given conditions. It never
// decreases as the spread widens or the depth thins, and never exceeds
// MaxTolerancePercent.
func (m Model) Dynamic(c Conditions) float64 {
	tol := m.LowVolatilityPercent
	if c.Volatility == VolatilityHigh {
		tol = m.HighVolatilityPercent
	}

	switch {
	case c.SpreadPercent > wideSpread:
		tol *= 1.5
	case c.SpreadPercent > highVolatilitySpread:
		tol *= 1.25
	}

	switch {
	case c.DepthUSD < thinDepthUSD:
		tol *= 1.4
	case c.DepthUSD < shallowDepthUSD:
		tol *= 1.2
	}

	return math.Min(tol, MaxTolerancePercent)
}

// Effective widens a dynamic tolerance for the given retry attempt when
// relaxation is enabled.
func (m Model) Effective(dynamic float64, retry int) float64 {
	if !m.RetryEnabled || retry <= 0 {
		return dynamic
	}
	return dynamic * (1 + m.RelaxationPercent/100*float64(retry))
}

// Acceptable reports whether buying at current stays within tolerance
// percent above the trader's price.
func Acceptable(current, traderPrice, tolerancePercent float64) bool {
	return current <= traderPrice*(1+tolerancePercent/100)
}
