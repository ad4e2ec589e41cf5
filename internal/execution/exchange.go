package execution

import (
	"context"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Exchange is the order-placement capability the loop drives. Orders are
// fill-or-kill: a successful response means the whole amount filled.
type Exchange interface {
	FetchOrderBook(ctx context.Context, asset string) (domain.OrderBook, error)
	SubmitMarketOrder(ctx context.Context, order domain.MarketOrder) (domain.OrderResponse, error)
	RefreshBalanceAllowance(ctx context.Context, assetType domain.AssetType, tokenID string) error
}

// Gate is the shared cooldown checked before every submission.
type Gate interface {
	Active() bool
	Trip(ctx context.Context, reason string) time.Time
}

// PositionLedger receives every fill.
type PositionLedger interface {
	RecordBuy(ctx context.Context, conditionID, asset string, tokens, spent float64) (domain.Position, error)
	RecordSell(ctx context.Context, conditionID string, tokens, proceeds float64) (domain.Position, bool, error)
	Get(ctx context.Context, conditionID string) (domain.Position, bool, error)
}
