package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/ledger"
	"github.com/alanyoungcy/polycopy/internal/ratelimit"
	"github.com/alanyoungcy/polycopy/internal/slippage"
)

type fakeExchange struct {
	mu        sync.Mutex
	bookFn    func(n int) (domain.OrderBook, error)
	submitFn  func(n int, o domain.MarketOrder) (domain.OrderResponse, error)
	fetches   int
	submitted []domain.MarketOrder
	refreshed []domain.AssetType
}

func staticBook(book domain.OrderBook) func(int) (domain.OrderBook, error) {
	return func(int) (domain.OrderBook, error) { return book, nil }
}

func (f *fakeExchange) FetchOrderBook(_ context.Context, _ string) (domain.OrderBook, error) {
	f.mu.Lock()
	n := f.fetches
	f.fetches++
	fn := f.bookFn
	f.mu.Unlock()
	return fn(n)
}

func (f *fakeExchange) SubmitMarketOrder(_ context.Context, o domain.MarketOrder) (domain.OrderResponse, error) {
	f.mu.Lock()
	n := len(f.submitted)
	f.submitted = append(f.submitted, o)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return domain.OrderResponse{Success: true, OrderID: "ok"}, nil
	}
	return fn(n, o)
}

func (f *fakeExchange) RefreshBalanceAllowance(_ context.Context, t domain.AssetType, _ string) error {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeExchange) Submitted() []domain.MarketOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MarketOrder, len(f.submitted))
	copy(out, f.submitted)
	return out
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testSettings() Settings {
	return Settings{
		RetryLimit:         3,
		MinOrderSizeUSD:    1,
		MinOrderSizeTokens: 1,
		BackoffBase:        time.Second,
		BackoffMax:         10 * time.Second,
		SlippageRetryDelay: 500 * time.Millisecond,
		Slippage: slippage.Model{
			HighVolatilityPercent: 10,
			LowVolatilityPercent:  5,
		},
	}
}

type harness struct {
	exchange *fakeExchange
	ledger   *ledger.Ledger
	gate     *ratelimit.Coordinator
	sleeper  *sleepRecorder
	loop     *Loop
}

func newHarness(settings Settings, ex *fakeExchange) *harness {
	h := &harness{
		exchange: ex,
		ledger:   ledger.New(ledger.NewMemoryStore(), testLogger()),
		gate:     ratelimit.New(time.Minute, testLogger()),
		sleeper:  &sleepRecorder{},
	}
	h.loop = NewLoop(ex, h.ledger, h.gate, settings, h.sleeper.Sleep, testLogger())
	return h
}

func levels(pairs ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func buyTrade() domain.Trade {
	return domain.Trade{
		ID:            "trade-buy",
		TraderAddress: "0x1111111111111111111111111111111111111111",
		Asset:         "asset-yes",
		ConditionID:   "cond-1",
		Side:          domain.OrderSideBuy,
		Type:          domain.TradeTypeTrade,
		Size:          200,
		Price:         0.50,
		USDCSize:      100,
	}
}

func sellTrade(size float64) domain.Trade {
	t := buyTrade()
	t.ID = "trade-sell"
	t.Side = domain.OrderSideSell
	t.Size = size
	t.USDCSize = size * t.Price
	return t
}

type memTrades struct {
	mu      sync.Mutex
	buys    []domain.TrackedBuy
	scaled  []float64
	listErr error
}

func (m *memTrades) Get(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}

func (m *memTrades) ListPending(context.Context, int) ([]domain.Trade, error) { return nil, nil }

func (m *memTrades) MarkProcessed(context.Context, string, domain.ProcessedFields) error {
	return nil
}

func (m *memTrades) ListTrackedBuys(context.Context, string, string) ([]domain.TrackedBuy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.TrackedBuy, len(m.buys))
	copy(out, m.buys)
	return out, nil
}

func (m *memTrades) ScaleTrackedBuys(_ context.Context, ids []string, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scaled = append(m.scaled, factor)
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range m.buys {
		if want[m.buys[i].TradeID] {
			m.buys[i].MyBoughtSize *= factor
		}
	}
	return nil
}
