// Package ledger tracks the bot's own holdings per market with a weighted
// average cost basis.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ErrInvalidFill is returned for fills with non-positive tokens or capital.
var ErrInvalidFill = errors.New("ledger: invalid fill")

const lockRetryInterval = 25 * time.Millisecond

// PositionChannel carries a PositionEvent after every ledger change.
const PositionChannel = "copy:positions"

// PositionEvent is published on PositionChannel.
type PositionEvent struct {
	ConditionID   string    `json:"condition_id"`
	Asset         string    `json:"asset"`
	Side          string    `json:"side"`
	Tokens        float64   `json:"tokens"`
	TokensHeld    float64   `json:"tokens_held"`
	TotalInvested float64   `json:"total_invested"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	Closed        bool      `json:"closed"`
	At            time.Time `json:"at"`
}

// Ledger serializes read-modify-write per condition ID. Different markets
// proceed in parallel.
type Ledger struct {
	store   domain.PositionStore
	locks   *keyedMutex
	dlock   domain.LockManager
	lockTTL time.Duration
	epsilon float64
	bus     domain.SignalBus
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDistributedLock additionally holds a lock from lm around every update,
// for deployments that run more than one engine against the same store.
func WithDistributedLock(lm domain.LockManager, ttl time.Duration) Option {
	return func(l *Ledger) {
		l.dlock = lm
		l.lockTTL = ttl
	}
}

// WithEpsilon overrides the closing epsilon.
func WithEpsilon(eps float64) Option {
	return func(l *Ledger) { l.epsilon = eps }
}

// WithBus publishes a PositionEvent for every change.
func WithBus(bus domain.SignalBus) Option {
	return func(l *Ledger) { l.bus = bus }
}

// WithClock replaces time.Now for LastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store.
func New(store domain.PositionStore, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		locks:   newKeyedMutex(),
		epsilon: domain.DefaultClosingEpsilon,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordBuy adds a buy fill to the market's position, creating it on the
// first fill.
func (l *Ledger) RecordBuy(ctx context.Context, conditionID, asset string, tokens, spent float64) (domain.Position, error) {
	if tokens <= 0 || spent <= 0 || math.IsNaN(tokens) || math.IsNaN(spent) {
		return domain.Position{}, fmt.Errorf("%w: buy %s tokens=%v spent=%v", ErrInvalidFill, conditionID, tokens, spent)
	}

	var out domain.Position
	err := l.withLock(ctx, conditionID, func() error {
		pos, ok, err := l.load(ctx, conditionID)
		if err != nil {
			return err
		}
		if !ok {
			pos = domain.Position{ConditionID: conditionID}
		}
		if pos.Asset == "" {
			pos.Asset = asset
		}

		pos.TokensHeld += tokens
		pos.TotalInvested += spent
		pos.RecomputeAverage()
		pos.LastUpdated = l.now()

		if err := l.store.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("ledger: save %s: %w", conditionID, err)
		}
		out = pos
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	l.logger.DebugContext(ctx, "buy recorded",
		slog.String("condition_id", conditionID),
		slog.Float64("tokens", tokens),
		slog.Float64("spent", spent),
		slog.Float64("tokens_held", out.TokensHeld),
		slog.Float64("avg_entry_price", out.AvgEntryPrice),
	)
	l.publish(ctx, "BUY", tokens, out, conditionID, false)
	return out, nil
}

// RecordSell removes sold tokens and scales invested capital by the fraction
// kept. Proceeds are only logged. The returned bool is false when the
// position no longer exists, either because it was closed by this sell or
// because there was nothing recorded.
func (l *Ledger) RecordSell(ctx context.Context, conditionID string, tokens, proceeds float64) (domain.Position, bool, error) {
	if tokens <= 0 || math.IsNaN(tokens) {
		return domain.Position{}, false, fmt.Errorf("%w: sell %s tokens=%v", ErrInvalidFill, conditionID, tokens)
	}

	var (
		out   domain.Position
		open  bool
		found bool
	)
	err := l.withLock(ctx, conditionID, func() error {
		pos, ok, err := l.load(ctx, conditionID)
		if err != nil {
			return err
		}
		if !ok {
			l.logger.WarnContext(ctx, "sell without ledger entry", slog.String("condition_id", conditionID))
			return nil
		}
		found = true

		sold := math.Min(tokens, pos.TokensHeld)
		pos.TotalInvested *= 1 - sold/pos.TokensHeld
		pos.TokensHeld -= sold
		pos.LastUpdated = l.now()

		if pos.TokensHeld <= l.epsilon {
			if err := l.store.Delete(ctx, conditionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("ledger: close %s: %w", conditionID, err)
			}
			l.logger.InfoContext(ctx, "position closed", slog.String("condition_id", conditionID))
			out = domain.Position{ConditionID: conditionID, Asset: pos.Asset, LastUpdated: pos.LastUpdated}
			return nil
		}

		pos.RecomputeAverage()
		if err := l.store.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("ledger: save %s: %w", conditionID, err)
		}
		out, open = pos, true
		return nil
	})
	if err != nil {
		return domain.Position{}, false, err
	}

	l.logger.DebugContext(ctx, "sell recorded",
		slog.String("condition_id", conditionID),
		slog.Float64("tokens", tokens),
		slog.Float64("proceeds", proceeds),
		slog.Float64("tokens_held", out.TokensHeld),
	)
	if found {
		l.publish(ctx, "SELL", tokens, out, conditionID, !open)
	}
	return out, open, nil
}

// publish is best effort; a bus failure never fails the fill.
func (l *Ledger) publish(ctx context.Context, side string, tokens float64, pos domain.Position, conditionID string, closed bool) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(PositionEvent{
		ConditionID:   conditionID,
		Asset:         pos.Asset,
		Side:          side,
		Tokens:        tokens,
		TokensHeld:    pos.TokensHeld,
		TotalInvested: pos.TotalInvested,
		AvgEntryPrice: pos.AvgEntryPrice,
		Closed:        closed,
		At:            l.now(),
	})
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, PositionChannel, payload); err != nil {
		l.logger.WarnContext(ctx, "publish position event failed",
			slog.String("condition_id", conditionID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns the market's position, or false if the bot holds none.
func (l *Ledger) Get(ctx context.Context, conditionID string) (domain.Position, bool, error) {
	return l.load(ctx, conditionID)
}

// List returns every open position.
func (l *Ledger) List(ctx context.Context) ([]domain.Position, error) {
	positions, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return positions, nil
}

func (l *Ledger) load(ctx context.Context, conditionID string) (domain.Position, bool, error) {
	pos, err := l.store.Get(ctx, conditionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, false, nil
		}
		return domain.Position{}, false, fmt.Errorf("ledger: load %s: %w", conditionID, err)
	}
	return pos, true, nil
}

func (l *Ledger) withLock(ctx context.Context, conditionID string, fn func() error) error {
	unlock := l.locks.Lock(conditionID)
	defer unlock()

	if l.dlock == nil {
		return fn()
	}

	release, err := l.acquireDistributed(ctx, "ledger:"+conditionID)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// acquireDistributed polls until the lock is free or ctx ends.
func (l *Ledger) acquireDistributed(ctx context.Context, key string) (func(), error) {
	for {
		release, err := l.dlock.Acquire(ctx, key, l.lockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ledger: lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger: lock %s: %w", key, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}
