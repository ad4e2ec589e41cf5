package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

type fakeArchiver struct {
	days []time.Time
	skip map[string]bool
}

func (f *fakeArchiver) ArchiveDay(_ context.Context, day time.Time) (domain.ArchiveResult, error) {
	f.days = append(f.days, day)
	key := day.Format(time.DateOnly)
	return domain.ArchiveResult{Day: day, Trades: 2, Skipped: f.skip[key]}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiver_RunCoversBackfillOldestFirst(t *testing.T) {
	fake := &fakeArchiver{skip: map[string]bool{"2026-03-08": true}}
	a := NewArchiver(fake, 3, discard())
	a.now = func() time.Time { return time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, fake.days, 3)
	assert.Equal(t, "2026-03-07", fake.days[0].Format(time.DateOnly))
	assert.Equal(t, "2026-03-08", fake.days[1].Format(time.DateOnly))
	assert.Equal(t, "2026-03-09", fake.days[2].Format(time.DateOnly))
}

func TestNewArchiver_MinimumOneDay(t *testing.T) {
	fake := &fakeArchiver{}
	a := NewArchiver(fake, 0, discard())
	a.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, fake.days, 1)
	assert.Equal(t, "2026-03-09", fake.days[0].Format(time.DateOnly))
}

func TestSchedule_Next(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 20, 30, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"15 0 * * *", time.Date(2026, 3, 11, 0, 15, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)},
		{"0 6-8 * * *", time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"21 0 * * *", time.Date(2026, 3, 10, 0, 21, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "a * * * *", "*/0 * * * *", "5-2 * * * *"} {
		assert.Error(t, ValidateCron(expr), expr)
	}
	assert.NoError(t, ValidateCron("0,30 1-3 * 1-12/2 0"))
}
