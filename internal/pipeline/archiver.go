// Package pipeline runs background jobs next to the copy engine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Archiver copies completed days of engine records to cold storage on a
// cron schedule.
type Archiver struct {
	archiver     domain.Archiver
	backfillDays int
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates an Archiver that covers the backfillDays completed
// UTC days before today on every run.
func NewArchiver(archiver domain.Archiver, backfillDays int, logger *slog.Logger) *Archiver {
	if backfillDays < 1 {
		backfillDays = 1
	}
	return &Archiver{
		archiver:     archiver,
		backfillDays: backfillDays,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          time.Now,
	}
}

// Run archives each completed day in the backfill window, oldest first.
// Days already in storage are skipped by the underlying archiver.
func (a *Archiver) Run(ctx context.Context) error {
	today := a.now().UTC().Truncate(24 * time.Hour)

	var trades, audit, skipped int
	for i := a.backfillDays; i >= 1; i-- {
		day := today.AddDate(0, 0, -i)
		res, err := a.archiver.ArchiveDay(ctx, day)
		if err != nil {
			return fmt.Errorf("archiving %s: %w", day.Format(time.DateOnly), err)
		}
		if res.Skipped {
			skipped++
			continue
		}
		trades += res.Trades
		audit += res.Audit
		a.logger.InfoContext(ctx, "archived day",
			slog.String("day", day.Format(time.DateOnly)),
			slog.Int("trades", res.Trades),
			slog.Int("audit", res.Audit),
		)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int("trades_archived", trades),
		slog.Int("audit_archived", audit),
		slog.Int("days_skipped", skipped),
	)
	return nil
}

// RunCron runs once at start, then on every match of cronExpr (five fields,
// UTC) until ctx is cancelled. A failed run is logged and retried at the
// next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver started", slog.String("cron", cronExpr))

	for {
		if err := a.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}

		next, err := sched.next(a.now().UTC())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
