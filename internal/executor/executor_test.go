package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/service"
)

type pendingRepo struct {
	domain.TradeRepository
	pending []domain.Trade
	err     error
}

func (r *pendingRepo) ListPending(context.Context, int) ([]domain.Trade, error) {
	return r.pending, r.err
}

type recordingProcessor struct {
	mu    sync.Mutex
	order map[string][]string
	calls map[string]int
	errFn func(id string) error
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{order: map[string][]string{}, calls: map[string]int{}}
}

func (p *recordingProcessor) Process(_ context.Context, id string) (domain.ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id]++
	market := id[:1]
	p.order[market] = append(p.order[market], id)
	if p.errFn != nil {
		return domain.ExecutionResult{}, p.errFn(id)
	}
	return domain.ExecutionResult{Success: true}, nil
}

type countingSyncer struct{ n int }

func (s *countingSyncer) Sync(context.Context) error {
	s.n++
	return nil
}

func trade(id string) domain.Trade {
	// The first character names the market.
	return domain.Trade{ID: id, ConditionID: "cond-" + id[:1]}
}

func newTestExecutor(repo domain.TradeRepository, proc Processor, syncer CooldownSyncer) *Executor {
	return NewExecutor(repo, proc, syncer, Config{
		PollInterval:   time.Second,
		BatchSize:      10,
		MaxConcurrency: 4,
		DedupTTL:       time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPoll_KeepsOrderWithinMarket(t *testing.T) {
	repo := &pendingRepo{pending: []domain.Trade{
		trade("a1"), trade("b1"), trade("a2"), trade("c1"), trade("b2"), trade("a3"),
	}}
	proc := newRecordingProcessor()
	syncer := &countingSyncer{}
	e := newTestExecutor(repo, proc, syncer)

	e.Poll(context.Background())

	assert.Equal(t, []string{"a1", "a2", "a3"}, proc.order["a"])
	assert.Equal(t, []string{"b1", "b2"}, proc.order["b"])
	assert.Equal(t, []string{"c1"}, proc.order["c"])
	assert.Equal(t, 1, syncer.n)
}

func TestPoll_ClaimsEachTradeOnce(t *testing.T) {
	repo := &pendingRepo{pending: []domain.Trade{trade("a1"), trade("b1")}}
	proc := newRecordingProcessor()
	proc.errFn = func(string) error { return errors.New("mark processed: connection refused") }
	e := newTestExecutor(repo, proc, nil)

	e.Poll(context.Background())
	e.Poll(context.Background())

	assert.Equal(t, 1, proc.calls["a1"])
	assert.Equal(t, 1, proc.calls["b1"])
	assert.Equal(t, 2, e.dedup.Len())
}

func TestPoll_CooldownReleasesClaim(t *testing.T) {
	repo := &pendingRepo{pending: []domain.Trade{trade("a1")}}
	proc := newRecordingProcessor()
	proc.errFn = func(id string) error { return fmt.Errorf("%w: 30s remaining", service.ErrCooldownActive) }
	e := newTestExecutor(repo, proc, nil)

	e.Poll(context.Background())
	e.Poll(context.Background())

	assert.Equal(t, 2, proc.calls["a1"])
	assert.Zero(t, e.dedup.Len())
}

func TestPoll_ListErrorIsLogged(t *testing.T) {
	repo := &pendingRepo{err: errors.New("db down")}
	proc := newRecordingProcessor()
	e := newTestExecutor(repo, proc, nil)

	e.Poll(context.Background())
	assert.Empty(t, proc.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := &pendingRepo{pending: []domain.Trade{trade("a1")}}
	proc := newRecordingProcessor()
	e := newTestExecutor(repo, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return proc.calls["a1"] == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop")
	}
}

func TestDedup_ClaimAndExpire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.True(t, d.Claim("t1"))
	assert.False(t, d.Claim("t1"))

	now = now.Add(time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
	assert.True(t, d.Claim("t1"))

	d.Forget("t1")
	assert.True(t, d.Claim("t1"))
}

func TestGroupByMarket(t *testing.T) {
	groups := groupByMarket([]domain.Trade{trade("a1"), trade("b1"), trade("a2")})
	require.Len(t, groups, 2)
	assert.Equal(t, "a1", groups[0][0].ID)
	assert.Equal(t, "a2", groups[0][1].ID)
	assert.Equal(t, "b1", groups[1][0].ID)
}
