package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const tradesJSON = `[
  {"id": "b", "trader_address": "0xAbC", "asset": "tok", "condition_id": "c1", "side": "buy",
   "size": 100, "price": 0.5, "usdc_size": 50, "timestamp": "2024-05-01T10:00:02Z"},
  {"id": "a", "trader_address": "0xabc", "asset": "tok", "condition_id": "c1", "side": "BUY",
   "size": 10, "price": 0.5, "usdc_size": 5, "timestamp": "2024-05-01T10:00:01Z"},
  {"id": "m", "trader_address": "0xabc", "asset": "tok", "condition_id": "c1", "side": "SELL",
   "type": "merge", "size": 10, "timestamp": "2024-05-01T10:00:03Z"}
]`

func TestTradeStore_LoadAndListPending(t *testing.T) {
	s := NewTradeStore()
	n, err := s.Load(strings.NewReader(tradesJSON))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Load(strings.NewReader(tradesJSON))
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := s.ListPending(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
	assert.Equal(t, domain.OrderSideBuy, pending[1].Side)
	assert.Equal(t, domain.TradeTypeTrade, pending[1].Type)

	m, err := s.Get(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeTypeMerge, m.Type)
}

func TestTradeStore_LoadRejectsMissingID(t *testing.T) {
	_, err := NewTradeStore().Load(strings.NewReader(`[{"asset":"tok"}]`))
	assert.Error(t, err)
}

func TestTradeStore_MarkProcessedOnce(t *testing.T) {
	s := NewTradeStore()
	s.Add(domain.Trade{ID: "t1", Side: domain.OrderSideBuy})
	ctx := context.Background()
	bought := 200.0

	require.NoError(t, s.MarkProcessed(ctx, "t1", domain.ProcessedFields{
		ExecutedAt: time.Unix(1, 0), ExecutedSize: 100, MyBoughtSize: &bought, Result: "ok",
	}))
	err := s.MarkProcessed(ctx, "t1", domain.ProcessedFields{Result: "again"})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.ErrorIs(t, s.MarkProcessed(ctx, "nope", domain.ProcessedFields{}), domain.ErrNotFound)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.BotProcessed)
	assert.Equal(t, "ok", got.BotResult)
	assert.Equal(t, 200.0, got.MyBoughtSize)

	pending, _ := s.ListPending(ctx, 0)
	assert.Empty(t, pending)
}

func TestTradeStore_TrackedBuys(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()
	for _, tr := range []domain.Trade{
		{ID: "1", TraderAddress: "0xABC", Asset: "tok", Side: domain.OrderSideBuy},
		{ID: "2", TraderAddress: "0xabc", Asset: "tok", Side: domain.OrderSideBuy},
		{ID: "3", TraderAddress: "0xabc", Asset: "other", Side: domain.OrderSideBuy},
	} {
		s.Add(tr)
	}
	for id, size := range map[string]float64{"1": 100, "2": 50, "3": 10} {
		sz := size
		require.NoError(t, s.MarkProcessed(ctx, id, domain.ProcessedFields{MyBoughtSize: &sz}))
	}

	buys, err := s.ListTrackedBuys(ctx, "0xabc", "tok")
	require.NoError(t, err)
	assert.Equal(t, []domain.TrackedBuy{{TradeID: "1", MyBoughtSize: 100}, {TradeID: "2", MyBoughtSize: 50}}, buys)

	require.NoError(t, s.ScaleTrackedBuys(ctx, []string{"1", "2"}, 0.8))
	buys, _ = s.ListTrackedBuys(ctx, "0xabc", "tok")
	assert.InDelta(t, 80, buys[0].MyBoughtSize, 1e-9)
	assert.InDelta(t, 40, buys[1].MyBoughtSize, 1e-9)
}

func TestAuditStore(t *testing.T) {
	s := NewAuditStore()
	require.NoError(t, s.Log(context.Background(), "copy_execution", map[string]any{"trade_id": "t1"}))
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "t1", entries[0].Detail["trade_id"])
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "copy:positions")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "copy:executions", []byte("other")))
	require.NoError(t, b.Publish(context.Background(), "copy:positions", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestAuditStore_ListByTrade(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t1", "t1"} {
		require.NoError(t, s.Log(ctx, "copy_execution", map[string]any{"trade_id": id}))
	}

	got, err := s.ListByTrade(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}
