package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

type recordingStrategy struct {
	calls int
	res   domain.ExecutionResult
}

func (s *recordingStrategy) Execute(context.Context, RouteInput) domain.ExecutionResult {
	s.calls++
	return s.res
}

func TestRouter_DispatchesExactlyOne(t *testing.T) {
	buy := &recordingStrategy{res: domain.ExecutionResult{Success: true, TotalExecuted: 10}}
	sell := &recordingStrategy{}
	merge := &recordingStrategy{}
	r := NewRouter(buy, sell, merge, testLogger())

	res, err := r.Route(context.Background(), ConditionBuy, RouteInput{Trade: buyTrade()})
	require.NoError(t, err)
	assert.Equal(t, buy.res, res)
	assert.Equal(t, 1, buy.calls)
	assert.Zero(t, sell.calls)
	assert.Zero(t, merge.calls)

	_, err = r.Route(context.Background(), ConditionMerge, RouteInput{Trade: buyTrade()})
	require.NoError(t, err)
	assert.Equal(t, 1, merge.calls)
}

func TestRouter_UnknownConditionHasNoSideEffect(t *testing.T) {
	ex := &fakeExchange{bookFn: staticBook(deepBook())}
	h := newHarness(testSettings(), ex)
	r := NewRouter(
		NewBuyStrategy(newSizer(), h.loop, testLogger()),
		NewSellStrategy(SourceChain{}, h.loop, 1, testLogger()),
		NewMergeStrategy(h.loop, 1, testLogger()),
		testLogger(),
	)

	res, err := r.Route(context.Background(), Condition("split"), RouteInput{Trade: buyTrade(), Balance: 1000})

	assert.ErrorIs(t, err, ErrUnknownCondition)
	assert.Equal(t, domain.ExecutionResult{}, res)
	assert.Zero(t, ex.fetches)
	assert.Empty(t, ex.Submitted())
	assert.Empty(t, ex.refreshed)
}
