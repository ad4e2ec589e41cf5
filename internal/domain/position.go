package domain

import "time"

// DefaultClosingEpsilon is the holding, in tokens, at or below which a
// ledger position is treated as closed and removed.
const DefaultClosingEpsilon = 0.0001

// Position is the bot's own holding in one market, keyed by condition ID.
// TotalInvested is the capital still allocated to the remaining tokens, not
// net cash flow: sells scale it down proportionally.
type Position struct {
	ConditionID   string
	Asset         string
	TokensHeld    float64
	TotalInvested float64
	AvgEntryPrice float64
	LastUpdated   time.Time
}

// RecomputeAverage derives AvgEntryPrice from the invested capital and the
// tokens held.
func (p *Position) RecomputeAverage() {
	if p.TokensHeld > 0 {
		p.AvgEntryPrice = p.TotalInvested / p.TokensHeld
		return
	}
	p.AvgEntryPrice = 0
}

// HoldingPosition is a position as reported by the exchange's data API for
// any wallet, the bot's or a tracked trader's.
type HoldingPosition struct {
	Wallet       string
	Asset        string
	ConditionID  string
	Size         float64
	AvgPrice     float64
	CurrentValue float64
	CurPrice     float64
	Outcome      string
	Title        string
}
