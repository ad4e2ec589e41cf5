package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/execution"
)

// ErrCooldownActive is returned when a trade is deferred because the
// rate-limit cooldown is running. The trade stays pending.
var ErrCooldownActive = errors.New("copy_service: cooldown active")

// Channels the service publishes on.
const (
	ExecutionChannel = "copy:executions"
)

// Notification event types.
const (
	EventFundsExhausted = "funds_exhausted"
	EventRateLimited    = "rate_limited"
	EventRetryLimit     = "retry_limit"
)

// Router routes a classified trade to a strategy.
type Router interface {
	Route(ctx context.Context, cond execution.Condition, in execution.RouteInput) (domain.ExecutionResult, error)
}

// Cooldown is the read side of the rate-limit coordinator.
type Cooldown interface {
	Active() bool
	Remaining() time.Duration
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// CopyService turns one pending trade into at most one strategy run and
// marks the trade processed afterwards. The processed flag is the
// idempotency key: a trade already marked processed is never run again.
type CopyService struct {
	trades    domain.TradeRepository
	holdings  domain.HoldingsReader
	router    Router
	cooldown  Cooldown
	botWallet string

	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewCopyService creates a CopyService. audit, bus and notifier are optional
// and may be set later with the With* methods.
func NewCopyService(
	trades domain.TradeRepository,
	holdings domain.HoldingsReader,
	router Router,
	cooldown Cooldown,
	botWallet string,
	logger *slog.Logger,
) *CopyService {
	return &CopyService{
		trades:    trades,
		holdings:  holdings,
		router:    router,
		cooldown:  cooldown,
		botWallet: botWallet,
		logger:    logger.With(slog.String("component", "copy_service")),
		now:       time.Now,
	}
}

// WithAudit records every execution in store.
func (s *CopyService) WithAudit(store domain.AuditStore) *CopyService {
	s.audit = store
	return s
}

// WithBus publishes execution events on bus.
func (s *CopyService) WithBus(bus domain.SignalBus) *CopyService {
	s.bus = bus
	return s
}

// WithNotifier sends alerts for aborted executions.
func (s *CopyService) WithNotifier(n Notifier) *CopyService {
	s.notifier = n
	return s
}

// ClassifyTrade derives the routing condition from a trade. It returns an
// empty condition for activity the engine does not copy.
func ClassifyTrade(t domain.Trade) execution.Condition {
	switch {
	case t.Type == domain.TradeTypeMerge:
		return execution.ConditionMerge
	case t.Side == domain.OrderSideBuy:
		return execution.ConditionBuy
	case t.Side == domain.OrderSideSell:
		return execution.ConditionSell
	default:
		return ""
	}
}

// Process copies the trade with the given ID.
func (s *CopyService) Process(ctx context.Context, tradeID string) (domain.ExecutionResult, error) {
	trade, err := s.trades.Get(ctx, tradeID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("copy_service: load trade %s: %w", tradeID, err)
	}
	if trade.BotProcessed {
		return domain.ExecutionResult{}, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessed, tradeID)
	}
	if s.cooldown.Active() {
		return domain.ExecutionResult{}, fmt.Errorf("%w: %s remaining", ErrCooldownActive, s.cooldown.Remaining().Round(time.Second))
	}

	in, err := s.buildInput(ctx, trade)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	cond := ClassifyTrade(trade)
	result, routeErr := s.router.Route(ctx, cond, in)
	if routeErr != nil {
		if !errors.Is(routeErr, execution.ErrUnknownCondition) {
			return domain.ExecutionResult{}, fmt.Errorf("copy_service: route %s: %w", tradeID, routeErr)
		}
		s.logger.WarnContext(ctx, "copy_service: unsupported trade",
			slog.String("trade_id", tradeID),
			slog.String("side", string(trade.Side)),
			slog.String("type", string(trade.Type)),
		)
		result.Reason = "unsupported condition"
	}

	// Nothing was bought or sold before the gate closed: leave the trade
	// pending so it is picked up once the cooldown ends.
	if result.RateLimited && result.Orders == 0 {
		s.logger.WarnContext(ctx, "copy_service: trade deferred by rate limit",
			slog.String("trade_id", tradeID),
			slog.String("reason", result.Reason),
		)
		return result, fmt.Errorf("%w: %s deferred", ErrCooldownActive, tradeID)
	}

	fields := domain.ProcessedFields{
		ExecutedAt:   s.now().UTC(),
		ExecutedSize: result.TotalExecuted,
		Result:       result.Outcome(),
	}
	if cond == execution.ConditionBuy && result.TokensTraded > 0 {
		bought := result.TokensTraded
		fields.MyBoughtSize = &bought
	}
	if err := s.trades.MarkProcessed(ctx, tradeID, fields); err != nil {
		return result, fmt.Errorf("copy_service: mark processed %s: %w", tradeID, err)
	}

	s.record(ctx, trade, cond, result)
	return result, routeErr
}

func (s *CopyService) buildInput(ctx context.Context, trade domain.Trade) (execution.RouteInput, error) {
	mine, err := s.holdings.Positions(ctx, s.botWallet)
	if err != nil {
		return execution.RouteInput{}, fmt.Errorf("copy_service: bot positions: %w", err)
	}
	theirs, err := s.holdings.Positions(ctx, trade.TraderAddress)
	if err != nil {
		return execution.RouteInput{}, fmt.Errorf("copy_service: trader positions: %w", err)
	}
	balance, err := s.holdings.CollateralBalance(ctx)
	if err != nil {
		return execution.RouteInput{}, fmt.Errorf("copy_service: balance: %w", err)
	}

	in := execution.RouteInput{
		Trade:          trade,
		BotPosition:    findPosition(mine, trade),
		TraderPosition: findPosition(theirs, trade),
		Balance:        balance,
	}
	// Merge activity may carry no token, or the other outcome's token; the
	// bot closes whichever token it holds in that market.
	if in.BotPosition != nil && (in.Trade.Asset == "" || trade.Type == domain.TradeTypeMerge) {
		in.Trade.Asset = in.BotPosition.Asset
	}
	return in, nil
}

// findPosition matches on the traded token. It falls back to the market when
// the trade has no token, or for merges whose token the wallet does not hold.
func findPosition(positions []domain.HoldingPosition, trade domain.Trade) *domain.HoldingPosition {
	if trade.Asset != "" {
		for i := range positions {
			if positions[i].Asset == trade.Asset {
				return &positions[i]
			}
		}
		if trade.Type != domain.TradeTypeMerge {
			return nil
		}
	}
	for i := range positions {
		if positions[i].ConditionID == trade.ConditionID {
			return &positions[i]
		}
	}
	return nil
}

func (s *CopyService) record(ctx context.Context, trade domain.Trade, cond execution.Condition, res domain.ExecutionResult) {
	executionID := uuid.NewString()
	detail := map[string]any{
		"execution_id":         executionID,
		"trade_id":             trade.ID,
		"trader":               trade.TraderAddress,
		"condition_id":         trade.ConditionID,
		"asset":                trade.Asset,
		"condition":            string(cond),
		"outcome":              res.Outcome(),
		"success":              res.Success,
		"total_executed":       res.TotalExecuted,
		"tokens_traded":        res.TokensTraded,
		"avg_fill_price":       res.AvgFillPrice,
		"orders":               res.Orders,
		"aborted_due_to_funds": res.AbortedDueToFunds,
		"retry_limit_reached":  res.RetryLimitReached,
		"rate_limited":         res.RateLimited,
		"reason":               res.Reason,
	}

	s.logger.InfoContext(ctx, "copy_service: trade processed",
		slog.String("execution_id", executionID),
		slog.String("trade_id", trade.ID),
		slog.String("condition", string(cond)),
		slog.String("outcome", res.Outcome()),
		slog.Float64("total_executed", res.TotalExecuted),
	)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "copy_execution", detail); err != nil {
			s.logger.WarnContext(ctx, "copy_service: audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(detail)
		if err := s.bus.Publish(ctx, ExecutionChannel, evt); err != nil {
			s.logger.WarnContext(ctx, "copy_service: publish event failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier == nil {
		return
	}
	var event, title string
	switch {
	case res.AbortedDueToFunds:
		event, title = EventFundsExhausted, "Copy aborted: insufficient funds"
	case res.RateLimited:
		event, title = EventRateLimited, "Copy aborted: rate limited"
	case res.RetryLimitReached:
		event, title = EventRetryLimit, "Copy gave up after retries"
	default:
		return
	}
	msg := strings.Join([]string{
		fmt.Sprintf("trade %s (%s %s)", trade.ID, cond, trade.Title),
		fmt.Sprintf("executed %.4f in %d order(s)", res.TotalExecuted, res.Orders),
		res.Reason,
	}, "\n")
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "copy_service: notify failed", slog.String("error", err.Error()))
	}
}
