package domain

// ExecutionResult is what every copy strategy returns. TotalExecuted is USDC
// notional for buys and tokens for sells and merges.
type ExecutionResult struct {
	Success           bool
	TotalExecuted     float64
	AbortedDueToFunds bool
	RetryLimitReached bool
	RateLimited       bool

	TokensTraded float64
	AvgFillPrice float64
	Orders       int
	Reason       string
}

// Outcome condenses the result into the label stored on the trade record.
func (r ExecutionResult) Outcome() string {
	switch {
	case r.AbortedDueToFunds:
		return "aborted_funds"
	case r.RateLimited:
		return "rate_limited"
	case r.RetryLimitReached:
		return "retry_limit"
	case r.Success:
		return "filled"
	case r.TotalExecuted > 0:
		return "partial"
	default:
		return "skipped"
	}
}
