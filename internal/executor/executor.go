// Package executor polls the trade repository for pending trades and hands
// them to the copy service.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/service"
)

// Processor copies one trade.
type Processor interface {
	Process(ctx context.Context, tradeID string) (domain.ExecutionResult, error)
}

// CooldownSyncer pulls a cooldown tripped by another process.
type CooldownSyncer interface {
	Sync(ctx context.Context) error
}

// Config tunes the poll loop.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxConcurrency int
	DedupTTL       time.Duration
}

// Executor polls for pending trades. Trades of the same market run in
// arrival order; different markets run in parallel up to MaxConcurrency.
type Executor struct {
	trades   domain.TradeRepository
	proc     Processor
	cooldown CooldownSyncer
	dedup    *Dedup
	cfg      Config
	logger   *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor. cooldown may be nil.
func NewExecutor(trades domain.TradeRepository, proc Processor, cooldown CooldownSyncer, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Executor{
		trades:          trades,
		proc:            proc,
		cooldown:        cooldown,
		dedup:           NewDedup(cfg.DedupTTL),
		cfg:             cfg,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started",
		slog.Duration("poll_interval", e.cfg.PollInterval),
		slog.Int("max_concurrency", e.cfg.MaxConcurrency),
	)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	e.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "executor stopping")
			return ctx.Err()
		case <-cleanup.C:
			e.dedup.Cleanup()
		case <-poll.C:
			e.Poll(ctx)
		}
	}
}

// Poll runs one cycle and waits for every claimed trade to finish.
func (e *Executor) Poll(ctx context.Context) {
	if e.cooldown != nil {
		if err := e.cooldown.Sync(ctx); err != nil {
			e.logger.WarnContext(ctx, "cooldown sync failed", slog.String("error", err.Error()))
		}
	}

	pending, err := e.trades.ListPending(ctx, e.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "list pending trades failed", slog.String("error", err.Error()))
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for _, batch := range groupByMarket(pending) {
		g.Go(func() error {
			for _, t := range batch {
				if ctx.Err() != nil {
					return nil
				}
				if !e.dedup.Claim(t.ID) {
					continue
				}
				e.process(ctx, t.ID)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Executor) process(ctx context.Context, tradeID string) {
	res, err := e.proc.Process(ctx, tradeID)
	switch {
	case err == nil:
		e.logger.DebugContext(ctx, "trade done",
			slog.String("trade_id", tradeID),
			slog.String("outcome", res.Outcome()),
		)
	case errors.Is(err, domain.ErrAlreadyProcessed):
		e.logger.DebugContext(ctx, "trade already processed", slog.String("trade_id", tradeID))
	case errors.Is(err, service.ErrCooldownActive):
		e.dedup.Forget(tradeID)
		e.logger.InfoContext(ctx, "trade deferred", slog.String("trade_id", tradeID), slog.String("reason", err.Error()))
	default:
		e.logger.ErrorContext(ctx, "process trade failed",
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()),
		)
	}
}

// groupByMarket keeps the repository's order inside each market.
func groupByMarket(trades []domain.Trade) [][]domain.Trade {
	index := make(map[string]int)
	var groups [][]domain.Trade
	for _, t := range trades {
		i, ok := index[t.ConditionID]
		if !ok {
			i = len(groups)
			index[t.ConditionID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}
