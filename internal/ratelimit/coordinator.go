// Package ratelimit holds the process-wide cooldown gate that every execution
// loop checks before submitting orders.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Coordinator records a cooldown-until deadline after any component observes
// a rate-limit signal. The deadline only moves forward while a cooldown is
// running: a later trip extends it, an earlier one is ignored.
type Coordinator struct {
	until    atomic.Int64 // unix nanoseconds, 0 when never tripped
	cooldown time.Duration
	mirror   domain.CooldownStore
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMirror shares trips with other processes through store.
func WithMirror(store domain.CooldownStore) Option {
	return func(c *Coordinator) { c.mirror = store }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator whose trips last cooldown.
func New(cooldown time.Duration, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "ratelimit")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trip starts (or extends) the cooldown and returns the resulting deadline.
func (c *Coordinator) Trip(ctx context.Context, reason string) time.Time {
	deadline := c.now().Add(c.cooldown)
	if c.extend(deadline) {
		c.logger.WarnContext(ctx, "cooldown tripped",
			slog.String("reason", reason),
			slog.Duration("cooldown", c.cooldown),
			slog.Time("until", deadline),
		)
		if c.mirror != nil {
			if err := c.mirror.SetCooldown(ctx, deadline); err != nil {
				c.logger.ErrorContext(ctx, "publish cooldown failed", slog.String("error", err.Error()))
			}
		}
	}
	return c.Until()
}

// Active reports whether order submission is currently suppressed.
func (c *Coordinator) Active() bool {
	return c.Remaining() > 0
}

// Remaining returns how long the current cooldown still runs.
func (c *Coordinator) Remaining() time.Duration {
	until := c.until.Load()
	if until == 0 {
		return 0
	}
	d := time.Unix(0, until).Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// Until returns the cooldown deadline, or the zero time if never tripped.
func (c *Coordinator) Until() time.Time {
	until := c.until.Load()
	if until == 0 {
		return time.Time{}
	}
	return time.Unix(0, until)
}

// Sync adopts a later deadline published by another process.
func (c *Coordinator) Sync(ctx context.Context) error {
	if c.mirror == nil {
		return nil
	}
	until, err := c.mirror.GetCooldown(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if c.extend(until) {
		c.logger.InfoContext(ctx, "adopted shared cooldown", slog.Time("until", until))
	}
	return nil
}

func (c *Coordinator) extend(deadline time.Time) bool {
	next := deadline.UnixNano()
	for {
		cur := c.until.Load()
		if next <= cur {
			return false
		}
		if c.until.CompareAndSwap(cur, next) {
			return true
		}
	}
}
