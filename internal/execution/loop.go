package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/slippage"
)

// State is a step of the execution loop.
type State int

const (
	StateFetchBook State = iota
	StateSlippageCheck
	StateSubmit
	StateAdvance
	StateRetry
	StateAbortFunds
	StateAbortRateLimit
	StateDone
)

func (s State) String() string {
	switch s {
	case StateFetchBook:
		return "FETCH_BOOK"
	case StateSlippageCheck:
		return "SLIPPAGE_CHECK"
	case StateSubmit:
		return "SUBMIT"
	case StateAdvance:
		return "ADVANCE"
	case StateRetry:
		return "RETRY"
	case StateAbortFunds:
		return "ABORT_FUNDS"
	case StateAbortRateLimit:
		return "ABORT_RATE_LIMIT"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateDone || s == StateAbortFunds || s == StateAbortRateLimit
}

// Settings bounds the loop.
type Settings struct {
	RetryLimit         int
	MinOrderSizeUSD    float64
	MinOrderSizeTokens float64
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	SlippageRetryDelay time.Duration
	Slippage           slippage.Model
}

// Plan is one fill target. Amount is USDC notional for buys and tokens for
// sells.
type Plan struct {
	Side   domain.OrderSide
	Trade  domain.Trade
	Amount float64
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Loop fills a Plan against the live book one best level at a time.
type Loop struct {
	exchange Exchange
	ledger   PositionLedger
	gate     Gate
	settings Settings
	logger   *slog.Logger
	sleep    SleepFunc
}

// NewLoop creates a Loop. sleep may be nil to use real timers.
func NewLoop(exchange Exchange, ledger PositionLedger, gate Gate, settings Settings, sleep SleepFunc, logger *slog.Logger) *Loop {
	if sleep == nil {
		sleep = sleepContext
	}
	return &Loop{
		exchange: exchange,
		ledger:   ledger,
		gate:     gate,
		settings: settings,
		logger:   logger.With(slog.String("component", "execution_loop")),
		sleep:    sleep,
	}
}

// run is the mutable state of one Loop.Run call.
type run struct {
	plan   Plan
	logger *slog.Logger

	remaining float64
	tokens    float64
	notional  float64
	orders    int
	retry     int

	level   domain.PriceLevel
	book    domain.OrderBook
	pending domain.MarketOrder

	completed    bool
	fundsAborted bool
	rateLimited  bool
	retryLimit   bool
	reason       string
}

// Run executes plan and always returns a well-formed result.
func (l *Loop) Run(ctx context.Context, plan Plan) domain.ExecutionResult {
	r := &run{
		plan:      plan,
		remaining: plan.Amount,
		logger: l.logger.With(
			slog.String("trade_id", plan.Trade.ID),
			slog.String("condition_id", plan.Trade.ConditionID),
			slog.String("side", string(plan.Side)),
		),
	}

	l.refreshBalance(ctx, r)

	state := StateFetchBook
	for !state.terminal() {
		next := l.step(ctx, r, state)
		r.logger.DebugContext(ctx, "transition",
			slog.String("from", state.String()),
			slog.String("to", next.String()),
			slog.Int("retry", r.retry),
			slog.Float64("remaining", r.remaining),
		)
		state = next
	}

	res := r.result()
	r.logger.InfoContext(ctx, "execution finished",
		slog.String("state", state.String()),
		slog.String("reason", res.Reason),
		slog.Bool("success", res.Success),
		slog.Float64("total_executed", res.TotalExecuted),
		slog.Int("orders", res.Orders),
	)
	return res
}

func (l *Loop) step(ctx context.Context, r *run, state State) State {
	switch state {
	case StateFetchBook:
		return l.fetchBook(ctx, r)
	case StateSlippageCheck:
		return l.checkSlippage(ctx, r)
	case StateSubmit:
		return l.submit(ctx, r)
	case StateAdvance:
		return l.advance(ctx, r)
	case StateRetry:
		return l.retry(ctx, r)
	default:
		return StateDone
	}
}

func (l *Loop) fetchBook(ctx context.Context, r *run) State {
	if r.remaining <= 0 {
		r.completed, r.reason = true, "filled"
		return StateDone
	}
	if r.remaining < l.minTradable(r.plan.Side) {
		r.completed, r.reason = true, "remainder below minimum"
		return StateDone
	}
	if ctx.Err() != nil {
		r.reason = "cancelled"
		return StateDone
	}
	if l.gate.Active() {
		r.rateLimited, r.reason = true, "cooldown active"
		return StateAbortRateLimit
	}

	book, err := l.exchange.FetchOrderBook(ctx, r.plan.Trade.Asset)
	if err != nil {
		return l.onFailure(ctx, r, "fetch order book", err, domain.OrderResponse{})
	}
	r.book = book

	var ok bool
	if r.plan.Side == domain.OrderSideBuy {
		r.level, ok = book.BestAsk()
	} else {
		r.level, ok = book.BestBid()
	}
	if !ok || r.level.Price <= 0 || r.level.Size <= 0 {
		r.reason = "no liquidity"
		return StateDone
	}

	if r.plan.Side == domain.OrderSideBuy {
		return StateSlippageCheck
	}
	return StateSubmit
}

func (l *Loop) checkSlippage(ctx context.Context, r *run) State {
	model := l.settings.Slippage
	cond := slippage.Analyze(r.book)
	tol := model.Effective(model.Dynamic(cond), r.retry)

	if slippage.Acceptable(r.level.Price, r.plan.Trade.Price, tol) {
		return StateSubmit
	}

	r.logger.WarnContext(ctx, "price outside slippage tolerance",
		slog.Float64("best_ask", r.level.Price),
		slog.Float64("trader_price", r.plan.Trade.Price),
		slog.Float64("tolerance_pct", tol),
		slog.Float64("spread_pct", cond.SpreadPercent),
		slog.Float64("depth_usd", cond.DepthUSD),
	)

	if model.RetryEnabled && r.retry < l.settings.RetryLimit-1 {
		if err := l.sleep(ctx, l.settings.SlippageRetryDelay); err != nil {
			r.reason = "cancelled"
			return StateDone
		}
		r.retry++
		return StateFetchBook
	}
	r.reason = "slippage"
	return StateDone
}

func (l *Loop) submit(ctx context.Context, r *run) State {
	// Another loop may have tripped the gate while this one was fetching.
	if l.gate.Active() {
		r.rateLimited, r.reason = true, "cooldown active"
		return StateAbortRateLimit
	}

	order := domain.MarketOrder{
		Side:  r.plan.Side,
		Asset: r.plan.Trade.Asset,
		Price: r.level.Price,
	}
	if r.plan.Side == domain.OrderSideBuy {
		order.Amount = math.Min(r.remaining, r.level.Notional())
		if err := l.exchange.RefreshBalanceAllowance(ctx, domain.AssetCollateral, ""); err != nil {
			r.logger.WarnContext(ctx, "balance refresh failed", slog.String("error", err.Error()))
		}
	} else {
		order.Amount = math.Min(r.remaining, r.level.Size)
	}

	resp, err := l.exchange.SubmitMarketOrder(ctx, order)
	if err != nil || !resp.Success {
		return l.onFailure(ctx, r, "submit order", err, resp)
	}
	r.pending = order
	return StateAdvance
}

func (l *Loop) advance(ctx context.Context, r *run) State {
	order := r.pending
	r.retry = 0
	r.orders++

	trade := r.plan.Trade
	if order.Side == domain.OrderSideBuy {
		tokens := order.Amount / order.Price
		r.notional += order.Amount
		r.tokens += tokens
		r.remaining -= order.Amount
		if _, err := l.ledger.RecordBuy(ctx, trade.ConditionID, trade.Asset, tokens, order.Amount); err != nil {
			r.logger.ErrorContext(ctx, "ledger buy update failed", slog.String("error", err.Error()))
		}
	} else {
		proceeds := order.Amount * order.Price
		r.tokens += order.Amount
		r.notional += proceeds
		r.remaining -= order.Amount
		if _, _, err := l.ledger.RecordSell(ctx, trade.ConditionID, order.Amount, proceeds); err != nil {
			r.logger.ErrorContext(ctx, "ledger sell update failed", slog.String("error", err.Error()))
		}
	}

	r.logger.InfoContext(ctx, "order filled",
		slog.Float64("amount", order.Amount),
		slog.Float64("price", order.Price),
		slog.Float64("remaining", r.remaining),
	)
	return StateFetchBook
}

func (l *Loop) retry(ctx context.Context, r *run) State {
	r.retry++
	if r.retry >= l.settings.RetryLimit {
		r.retryLimit, r.reason = true, "retry limit reached"
		return StateDone
	}
	if err := l.sleep(ctx, l.backoff(r.retry)); err != nil {
		r.reason = "cancelled"
		return StateDone
	}
	return StateFetchBook
}

func (l *Loop) onFailure(ctx context.Context, r *run, op string, err error, resp domain.OrderResponse) State {
	kind := Classify(err, resp)
	msg := resp.ErrorMsg
	if err != nil {
		msg = err.Error()
	}
	r.logger.WarnContext(ctx, op+" failed",
		slog.String("kind", kind.String()),
		slog.String("error", msg),
		slog.Int("retry", r.retry),
	)

	switch kind {
	case FailureInsufficientFunds:
		r.fundsAborted, r.reason = true, "insufficient funds or allowance"
		return StateAbortFunds
	case FailureRateLimited:
		l.gate.Trip(ctx, msg)
		r.rateLimited, r.reason = true, "rate limited"
		return StateAbortRateLimit
	default:
		return StateRetry
	}
}

func (l *Loop) refreshBalance(ctx context.Context, r *run) {
	var err error
	if r.plan.Side == domain.OrderSideBuy {
		err = l.exchange.RefreshBalanceAllowance(ctx, domain.AssetCollateral, "")
	} else {
		err = l.exchange.RefreshBalanceAllowance(ctx, domain.AssetConditional, r.plan.Trade.Asset)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "balance refresh failed", slog.String("error", err.Error()))
	}
}

func (l *Loop) minTradable(side domain.OrderSide) float64 {
	if side == domain.OrderSideBuy {
		return l.settings.MinOrderSizeUSD
	}
	return l.settings.MinOrderSizeTokens
}

// maxBackoffShift keeps BackoffBase << shift inside int64 for any sane base.
const maxBackoffShift = 30

// backoff doubles from BackoffBase for each consecutive failure.
func (l *Loop) backoff(retry int) time.Duration {
	shift := min(max(retry-1, 0), maxBackoffShift)
	d := l.settings.BackoffBase << shift
	if d <= 0 {
		d = l.settings.BackoffBase
	}
	if l.settings.BackoffMax > 0 && d > l.settings.BackoffMax {
		return l.settings.BackoffMax
	}
	return d
}

func (r *run) result() domain.ExecutionResult {
	res := domain.ExecutionResult{
		Success:           r.completed,
		AbortedDueToFunds: r.fundsAborted,
		RetryLimitReached: r.retryLimit,
		RateLimited:       r.rateLimited,
		TokensTraded:      r.tokens,
		Orders:            r.orders,
		Reason:            r.reason,
	}
	if r.plan.Side == domain.OrderSideBuy {
		res.TotalExecuted = r.notional
	} else {
		res.TotalExecuted = r.tokens
	}
	if r.tokens > 0 {
		res.AvgFillPrice = r.notional / r.tokens
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
