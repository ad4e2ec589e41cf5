package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type memMirror struct {
	until time.Time
	sets  int
}

func (m *memMirror) SetCooldown(_ context.Context, until time.Time) error {
	m.until = until
	m.sets++
	return nil
}

func (m *memMirror) GetCooldown(context.Context) (time.Time, error) {
	if m.until.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return m.until, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCoordinator_TripAndElapse(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(time.Minute, discard(), WithClock(clk.Now))

	assert.False(t, c.Active())
	assert.True(t, c.Until().IsZero())

	c.Trip(context.Background(), "429")
	assert.True(t, c.Active())
	assert.Equal(t, time.Minute, c.Remaining())

	clk.Advance(59 * time.Second)
	assert.True(t, c.Active())

	clk.Advance(time.Second)
	assert.False(t, c.Active())
	assert.Zero(t, c.Remaining())
}

func TestCoordinator_TripNeverShortens(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(time.Minute, discard(), WithClock(clk.Now))

	first := c.Trip(context.Background(), "first")
	clk.Advance(30 * time.Second)
	second := c.Trip(context.Background(), "second")
	assert.True(t, second.After(first))

	// A stale deadline from another process cannot pull it back.
	assert.False(t, c.extend(first))
	assert.Equal(t, second, c.Until())
}

func TestCoordinator_ConcurrentTrips(t *testing.T) {
	c := New(time.Minute, discard())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Trip(context.Background(), "burst")
			_ = c.Active()
		}()
	}
	wg.Wait()

	assert.True(t, c.Active())
	assert.LessOrEqual(t, c.Remaining(), time.Minute)
}

func TestCoordinator_MirrorRoundTrip(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mirror := &memMirror{}

	tripper := New(2*time.Minute, discard(), WithClock(clk.Now), WithMirror(mirror))
	follower := New(2*time.Minute, discard(), WithClock(clk.Now), WithMirror(mirror))

	require.NoError(t, follower.Sync(context.Background()))
	assert.False(t, follower.Active())

	tripper.Trip(context.Background(), "cloudflare")
	assert.Equal(t, 1, mirror.sets)

	require.NoError(t, follower.Sync(context.Background()))
	assert.True(t, follower.Active())
	assert.Equal(t, tripper.Until(), follower.Until())
}
