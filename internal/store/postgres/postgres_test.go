package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// testDSNEnv names a throwaway database the store tests may migrate and write
// to. The tests are skipped when it is unset.
const testDSNEnv = "POLYCOPY_TEST_POSTGRES_DSN"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func insertTestTrade(t *testing.T, store *TradeStore) domain.Trade {
	t.Helper()
	trade := domain.Trade{
		ID:            "test-" + uuid.NewString(),
		TraderAddress: "0xtrader",
		Asset:         "asset-yes",
		ConditionID:   "cond-1",
		Side:          domain.OrderSideBuy,
		Type:          domain.TradeTypeTrade,
		Size:          200,
		Price:         0.5,
		USDCSize:      100,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Insert(context.Background(), trade))
	t.Cleanup(func() {
		_, _ = store.pool.Exec(context.Background(), `DELETE FROM copy_trades WHERE id = $1`, trade.ID)
	})
	return trade
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/polycopy?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "polycopy", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/polycopy?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "polycopy", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestTradeStore_MarkProcessedOnce(t *testing.T) {
	store := NewTradeStore(newTestClient(t).Pool())
	ctx := context.Background()
	trade := insertTestTrade(t, store)

	bought := 200.0
	first := domain.ProcessedFields{
		ExecutedAt:   time.Now().UTC().Truncate(time.Second),
		ExecutedSize: 100,
		MyBoughtSize: &bought,
		Result:       "filled",
	}
	require.NoError(t, store.MarkProcessed(ctx, trade.ID, first))

	err := store.MarkProcessed(ctx, trade.ID, domain.ProcessedFields{
		ExecutedAt:   time.Now().UTC(),
		ExecutedSize: 5,
		Result:       "skipped",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	got, err := store.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, got.BotProcessed)
	assert.Equal(t, "filled", got.BotResult)
	assert.InDelta(t, 100, got.BotExecutedSize, 1e-9)
	assert.InDelta(t, 200, got.MyBoughtSize, 1e-9)

	pending, err := store.ListPending(ctx, 1000)
	require.NoError(t, err)
	for _, p := range pending {
		assert.NotEqual(t, trade.ID, p.ID)
	}
}

func TestTradeStore_MarkProcessedMissing(t *testing.T) {
	store := NewTradeStore(newTestClient(t).Pool())

	err := store.MarkProcessed(context.Background(), "test-missing-"+uuid.NewString(), domain.ProcessedFields{
		ExecutedAt: time.Now().UTC(),
		Result:     "skipped",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeStore_MarkProcessedConcurrent(t *testing.T) {
	store := NewTradeStore(newTestClient(t).Pool())
	ctx := context.Background()
	trade := insertTestTrade(t, store)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.MarkProcessed(ctx, trade.ID, domain.ProcessedFields{
				ExecutedAt:   time.Now().UTC(),
				ExecutedSize: float64(i + 1),
				Result:       "filled",
			})
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, won)
}
