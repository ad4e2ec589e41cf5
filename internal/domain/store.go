package domain

import (
	"context"
	"time"
)

// PositionStore persists the bot's per-market ledger entries.
type PositionStore interface {
	Get(ctx context.Context, conditionID string) (Position, error)
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, conditionID string) error
	List(ctx context.Context) ([]Position, error)
}

// TradeRepository reads observed trades and records how the bot handled them.
type TradeRepository interface {
	Get(ctx context.Context, id string) (Trade, error)
	ListPending(ctx context.Context, limit int) ([]Trade, error)
	MarkProcessed(ctx context.Context, id string, fields ProcessedFields) error
	ListTrackedBuys(ctx context.Context, trader, asset string) ([]TrackedBuy, error)
	ScaleTrackedBuys(ctx context.Context, ids []string, factor float64) error
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore provides append-only audit logging.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// TraderScorer supplies the performance multiplier for a tracked trader.
// 1.0 is neutral.
type TraderScorer interface {
	DynamicMultiplier(ctx context.Context, trader string) (float64, error)
}

// HoldingsReader reads current positions and balances from the exchange.
type HoldingsReader interface {
	Positions(ctx context.Context, wallet string) ([]HoldingPosition, error)
	CollateralBalance(ctx context.Context) (float64, error)
}
