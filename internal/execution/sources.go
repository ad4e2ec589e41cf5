package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// BoughtTokenSource reports how many tokens the bot bought for a trade's
// market. ok is false when the source has no record.
type BoughtTokenSource interface {
	Name() string
	BoughtTokens(ctx context.Context, trade domain.Trade) (tokens float64, ok bool, err error)
	RecordSold(ctx context.Context, trade domain.Trade, soldFraction float64) error
}

// SourceChain consults sources in order and uses the first with a record.
type SourceChain struct {
	Sources []BoughtTokenSource
	Logger  *slog.Logger
}

// Lookup returns the tracked total and the source that produced it, or a
// nil source when none had a record.
func (c SourceChain) Lookup(ctx context.Context, trade domain.Trade) (float64, BoughtTokenSource) {
	for _, src := range c.Sources {
		tokens, ok, err := src.BoughtTokens(ctx, trade)
		if err != nil {
			if c.Logger != nil {
				c.Logger.WarnContext(ctx, "bought-token lookup failed",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if ok && tokens > 0 {
			return tokens, src
		}
	}
	return 0, nil
}

// LedgerSource reads the position ledger. The loop already records every
// fill there, so RecordSold has nothing to do.
type LedgerSource struct {
	Ledger PositionLedger
}

func (LedgerSource) Name() string { return "ledger" }

func (s LedgerSource) BoughtTokens(ctx context.Context, trade domain.Trade) (float64, bool, error) {
	pos, ok, err := s.Ledger.Get(ctx, trade.ConditionID)
	if err != nil || !ok {
		return 0, false, err
	}
	return pos.TokensHeld, pos.TokensHeld > 0, nil
}

func (LedgerSource) RecordSold(context.Context, domain.Trade, float64) error { return nil }

// HistorySource rebuilds the bought total from processed BUY trades of the
// same trader and asset, for positions opened before the ledger existed.
type HistorySource struct {
	Trades domain.TradeRepository
}

func (HistorySource) Name() string { return "trade_history" }

func (s HistorySource) BoughtTokens(ctx context.Context, trade domain.Trade) (float64, bool, error) {
	buys, err := s.Trades.ListTrackedBuys(ctx, trade.TraderAddress, trade.Asset)
	if err != nil {
		return 0, false, fmt.Errorf("list tracked buys: %w", err)
	}
	var total float64
	for _, b := range buys {
		total += b.MyBoughtSize
	}
	return total, total > 0, nil
}

// RecordSold shrinks the stored bought sizes by the sold fraction.
func (s HistorySource) RecordSold(ctx context.Context, trade domain.Trade, soldFraction float64) error {
	buys, err := s.Trades.ListTrackedBuys(ctx, trade.TraderAddress, trade.Asset)
	if err != nil {
		return fmt.Errorf("list tracked buys: %w", err)
	}
	if len(buys) == 0 {
		return nil
	}
	ids := make([]string, len(buys))
	for i, b := range buys {
		ids[i] = b.TradeID
	}
	return s.Trades.ScaleTrackedBuys(ctx, ids, 1-soldFraction)
}
