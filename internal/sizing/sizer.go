// Package sizing turns a tracked trader's buy into the bot's order notional.
package sizing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Config is the sizing policy.
type Config struct {
	Strategy          CopyStrategy
	DefaultMultiplier float64
	TraderMultipliers map[string]float64
	MinOrderSizeUSD   float64
	WindDown          bool
}

// Input describes one buy to size.
type Input struct {
	Trader         string
	TraderNotional float64
	Balance        float64
	PositionValue  float64
}

// Decision is the sizing outcome. FinalAmount is 0 when the buy is skipped.
type Decision struct {
	FinalAmount  float64
	Reasoning    string
	BelowMinimum bool
	Multiplier   float64
}

// Sizer applies Config to buys. scorer may be nil.
type Sizer struct {
	cfg         Config
	multipliers map[string]float64
	scorer      domain.TraderScorer
	logger      *slog.Logger
}

// NewSizer creates a Sizer. Multiplier keys are matched case-insensitively
// on the trader address.
func NewSizer(cfg Config, scorer domain.TraderScorer, logger *slog.Logger) *Sizer {
	m := make(map[string]float64, len(cfg.TraderMultipliers))
	for addr, v := range cfg.TraderMultipliers {
		m[NormalizeAddress(addr)] = v
	}
	return &Sizer{
		cfg:         cfg,
		multipliers: m,
		scorer:      scorer,
		logger:      logger.With(slog.String("component", "sizer")),
	}
}

// NormalizeAddress lower-cases a hex wallet address so checksummed and plain
// spellings map to the same key.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}

// Multiplier returns the per-trader multiplier, or the default.
func (s *Sizer) Multiplier(trader string) float64 {
	if v, ok := s.multipliers[NormalizeAddress(trader)]; ok {
		return v
	}
	return s.cfg.DefaultMultiplier
}

// Size computes the buy notional for in.
func (s *Sizer) Size(ctx context.Context, in Input) Decision {
	if s.cfg.WindDown {
		return Decision{Reasoning: "wind-down mode: not opening new positions"}
	}

	mult := s.Multiplier(in.Trader)
	amount, notes := s.cfg.Strategy.CalculateOrderSize(in.TraderNotional, mult, in.Balance, in.PositionValue)

	if amount > 0 && s.scorer != nil {
		dyn, err := s.scorer.DynamicMultiplier(ctx, in.Trader)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "score lookup failed",
				slog.String("trader", in.Trader),
				slog.String("error", err.Error()),
			)
		case dyn > 0 && dyn != 1:
			amount *= dyn
			notes = append(notes, fmt.Sprintf("score multiplier %.2f", dyn))
			if amount > in.Balance {
				amount = in.Balance
				notes = append(notes, fmt.Sprintf("capped to balance $%.2f", amount))
			}
		}
	}

	below := false
	minUSD := s.cfg.MinOrderSizeUSD
	if amount > 0 && amount < minUSD {
		if amount >= minUSD*0.5 && in.Balance >= minUSD {
			notes = append(notes, fmt.Sprintf("$%.4f rounded up to minimum $%.2f", amount, minUSD))
			amount = minUSD
		} else {
			notes = append(notes, fmt.Sprintf("$%.4f below minimum $%.2f, skipped", amount, minUSD))
			amount = 0
			below = true
		}
	}

	return Decision{
		FinalAmount:  amount,
		Reasoning:    strings.Join(notes, "; "),
		BelowMinimum: below,
		Multiplier:   mult,
	}
}
