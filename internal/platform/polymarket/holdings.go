package polymarket

import (
	"context"
	"strings"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// PositionSource lists the positions of a wallet.
type PositionSource interface {
	Positions(ctx context.Context, wallet string) ([]domain.HoldingPosition, error)
}

// BalanceSource reports the bot's spendable collateral.
type BalanceSource interface {
	CollateralBalance(ctx context.Context) (float64, error)
}

// Holdings implements domain.HoldingsReader. Trader positions always come
// from the Data API; the bot's own positions can be served by another source
// (the paper exchange in paper mode).
type Holdings struct {
	traders   PositionSource
	balance   BalanceSource
	bot       PositionSource
	botWallet string
}

// NewHoldings creates a Holdings reader.
func NewHoldings(traders PositionSource, balance BalanceSource) *Holdings {
	return &Holdings{traders: traders, balance: balance}
}

// WithBotPositions routes lookups for wallet to src.
func (h *Holdings) WithBotPositions(wallet string, src PositionSource) *Holdings {
	h.bot = src
	h.botWallet = strings.ToLower(wallet)
	return h
}

// Positions returns the positions of wallet.
func (h *Holdings) Positions(ctx context.Context, wallet string) ([]domain.HoldingPosition, error) {
	if h.bot != nil && strings.ToLower(wallet) == h.botWallet {
		return h.bot.Positions(ctx, wallet)
	}
	return h.traders.Positions(ctx, wallet)
}

// CollateralBalance returns the bot's collateral balance.
func (h *Holdings) CollateralBalance(ctx context.Context) (float64, error) {
	return h.balance.CollateralBalance(ctx)
}

var _ domain.HoldingsReader = (*Holdings)(nil)
