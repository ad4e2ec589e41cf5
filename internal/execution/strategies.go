package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/sizing"
)

// RouteInput is everything a strategy needs for one trade. TraderPosition
// is nil when the trader holds nothing after the trade.
type RouteInput struct {
	Trade          domain.Trade
	BotPosition    *domain.HoldingPosition
	TraderPosition *domain.HoldingPosition
	Balance        float64
}

// Strategy executes one classified trade.
type Strategy interface {
	Execute(ctx context.Context, in RouteInput) domain.ExecutionResult
}

// BuyStrategy sizes the copy and buys against the asks.
type BuyStrategy struct {
	sizer  *sizing.Sizer
	loop   *Loop
	logger *slog.Logger
}

// NewBuyStrategy creates a BuyStrategy.
func NewBuyStrategy(sizer *sizing.Sizer, loop *Loop, logger *slog.Logger) *BuyStrategy {
	return &BuyStrategy{sizer: sizer, loop: loop, logger: logger.With(slog.String("component", "buy_strategy"))}
}

func (s *BuyStrategy) Execute(ctx context.Context, in RouteInput) domain.ExecutionResult {
	var positionValue float64
	if in.BotPosition != nil {
		positionValue = in.BotPosition.CurrentValue
	}

	decision := s.sizer.Size(ctx, sizing.Input{
		Trader:         in.Trade.TraderAddress,
		TraderNotional: in.Trade.USDCSize,
		Balance:        in.Balance,
		PositionValue:  positionValue,
	})
	s.logger.InfoContext(ctx, "buy sized",
		slog.String("trade_id", in.Trade.ID),
		slog.Float64("trader_usdc", in.Trade.USDCSize),
		slog.Float64("final_amount", decision.FinalAmount),
		slog.String("reasoning", decision.Reasoning),
	)

	if decision.FinalAmount <= 0 {
		return domain.ExecutionResult{Reason: decision.Reasoning}
	}
	return s.loop.Run(ctx, Plan{Side: domain.OrderSideBuy, Trade: in.Trade, Amount: decision.FinalAmount})
}

// SellStrategy mirrors the fraction of the position the trader sold.
type SellStrategy struct {
	sources   SourceChain
	loop      *Loop
	minTokens float64
	logger    *slog.Logger
}

// NewSellStrategy creates a SellStrategy consulting sources in order.
func NewSellStrategy(sources SourceChain, loop *Loop, minTokens float64, logger *slog.Logger) *SellStrategy {
	return &SellStrategy{
		sources:   sources,
		loop:      loop,
		minTokens: minTokens,
		logger:    logger.With(slog.String("component", "sell_strategy")),
	}
}

func (s *SellStrategy) Execute(ctx context.Context, in RouteInput) domain.ExecutionResult {
	if in.BotPosition == nil || in.BotPosition.Size <= 0 {
		return domain.ExecutionResult{Reason: "no position to sell"}
	}
	held := in.BotPosition.Size

	var (
		amount   float64
		tracked  float64
		source   BoughtTokenSource
		fraction = 1.0
	)
	if in.TraderPosition == nil || in.TraderPosition.Size <= 0 {
		amount = held
		s.logger.InfoContext(ctx, "trader closed position, selling all",
			slog.String("trade_id", in.Trade.ID),
			slog.Float64("held", held),
		)
	} else {
		before := in.TraderPosition.Size + in.Trade.Size
		fraction = math.Min(in.Trade.Size/before, 1)

		tracked, source = s.sources.Lookup(ctx, in.Trade)
		base := tracked
		if source == nil {
			base = held
		}
		amount = base * fraction

		attrs := []any{
			slog.String("trade_id", in.Trade.ID),
			slog.Float64("trader_sell_pct", fraction*100),
			slog.Float64("base_tokens", base),
			slog.Float64("amount", amount),
		}
		if source != nil {
			attrs = append(attrs, slog.String("source", source.Name()))
		}
		s.logger.InfoContext(ctx, "sell sized", attrs...)
	}

	if amount > held {
		amount = held
	}
	if amount < s.minTokens {
		return domain.ExecutionResult{Reason: fmt.Sprintf("sell size %.4f below minimum %.4f tokens", amount, s.minTokens)}
	}

	res := s.loop.Run(ctx, Plan{Side: domain.OrderSideSell, Trade: in.Trade, Amount: amount})

	if source != nil && tracked > 0 && res.TokensTraded > 0 {
		sold := math.Min(res.TokensTraded/tracked, 1)
		if err := source.RecordSold(ctx, in.Trade, sold); err != nil {
			s.logger.ErrorContext(ctx, "update tracked buys failed",
				slog.String("source", source.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return res
}

// MergeStrategy closes the bot's whole position in the market.
type MergeStrategy struct {
	loop      *Loop
	minTokens float64
	logger    *slog.Logger
}

// NewMergeStrategy creates a MergeStrategy.
func NewMergeStrategy(loop *Loop, minTokens float64, logger *slog.Logger) *MergeStrategy {
	return &MergeStrategy{loop: loop, minTokens: minTokens, logger: logger.With(slog.String("component", "merge_strategy"))}
}

func (s *MergeStrategy) Execute(ctx context.Context, in RouteInput) domain.ExecutionResult {
	if in.BotPosition == nil || in.BotPosition.Size <= 0 {
		return domain.ExecutionResult{Reason: "no position to merge"}
	}
	if in.BotPosition.Size < s.minTokens {
		return domain.ExecutionResult{Reason: fmt.Sprintf("position %.4f below minimum %.4f tokens", in.BotPosition.Size, s.minTokens)}
	}
	s.logger.InfoContext(ctx, "closing position",
		slog.String("trade_id", in.Trade.ID),
		slog.Float64("tokens", in.BotPosition.Size),
	)
	return s.loop.Run(ctx, Plan{Side: domain.OrderSideSell, Trade: in.Trade, Amount: in.BotPosition.Size})
}
