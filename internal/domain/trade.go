package domain

import "time"

// TradeType distinguishes ordinary fills from merge activity.
type TradeType string

const (
	TradeTypeTrade TradeType = "TRADE"
	TradeTypeMerge TradeType = "MERGE"
)

// Trade is an observed fill by a tracked trader. The activity feed writes
// it; the copy engine only reads it and fills in the Bot* processing fields.
type Trade struct {
	ID              string
	TraderAddress   string
	TransactionHash string
	Asset           string
	ConditionID     string
	Side            OrderSide
	Type            TradeType
	Size            float64 // tokens
	Price           float64
	USDCSize        float64 // notional in USDC
	Title           string
	Outcome         string
	Timestamp       time.Time

	BotProcessed    bool
	BotExecutedAt   *time.Time
	BotExecutedSize float64
	MyBoughtSize    float64
	BotResult       string
}

// ProcessedFields is the update written when a trade has been handled.
// MyBoughtSize is only set for buys; nil leaves the column untouched.
type ProcessedFields struct {
	ExecutedAt   time.Time
	ExecutedSize float64
	MyBoughtSize *float64
	Result       string
}

// TrackedBuy is a processed BUY record that still carries tokens the bot
// bought when copying it.
type TrackedBuy struct {
	TradeID      string
	MyBoughtSize float64
}
