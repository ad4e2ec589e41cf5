package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Condition is the upstream classification of a trade.
type Condition string

const (
	ConditionBuy   Condition = "buy"
	ConditionSell  Condition = "sell"
	ConditionMerge Condition = "merge"
)

// ErrUnknownCondition is returned for a classification with no strategy.
var ErrUnknownCondition = errors.New("execution: unknown condition")

// Router dispatches a classified trade to exactly one strategy.
type Router struct {
	strategies map[Condition]Strategy
	logger     *slog.Logger
}

// NewRouter creates a Router over the three strategies.
func NewRouter(buy, sell, merge Strategy, logger *slog.Logger) *Router {
	return &Router{
		strategies: map[Condition]Strategy{
			ConditionBuy:   buy,
			ConditionSell:  sell,
			ConditionMerge: merge,
		},
		logger: logger.With(slog.String("component", "router")),
	}
}

// Route runs the strategy for cond. Unknown conditions return
// ErrUnknownCondition without touching the exchange.
func (r *Router) Route(ctx context.Context, cond Condition, in RouteInput) (domain.ExecutionResult, error) {
	strategy, ok := r.strategies[cond]
	if !ok || strategy == nil {
		return domain.ExecutionResult{}, fmt.Errorf("%w: %q", ErrUnknownCondition, cond)
	}

	r.logger.InfoContext(ctx, "routing trade",
		slog.String("trade_id", in.Trade.ID),
		slog.String("condition", string(cond)),
		slog.String("trader", in.Trade.TraderAddress),
		slog.Float64("size", in.Trade.Size),
		slog.Float64("price", in.Trade.Price),
	)
	return strategy.Execute(ctx, in), nil
}
