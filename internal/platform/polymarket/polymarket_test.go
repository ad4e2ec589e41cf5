package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/sizing"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSignedClient(t *testing.T, baseURL string) *ClobClient {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137, crypto.ExchangeAddress)
	require.NoError(t, err)
	c := NewClobClient(ClobConfig{
		BaseURL: baseURL,
		Signer:  signer,
		Auth:    &crypto.HMACAuth{Key: "api-key", Secret: "c2VjcmV0", Passphrase: "pp"},
	})
	c.salt = func() int64 { return 42 }
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

func TestMarketAmounts(t *testing.T) {
	tests := []struct {
		name         string
		side         domain.OrderSide
		amount       float64
		price        float64
		maker, taker string
		wantErr      bool
	}{
		{name: "buy 100 at 0.5", side: domain.OrderSideBuy, amount: 100, price: 0.5, maker: "100000000", taker: "200000000"},
		{name: "buy rounds maker to cents", side: domain.OrderSideBuy, amount: 10.005, price: 0.3, maker: "10010000", taker: "33366600"},
		{name: "sell rounds down", side: domain.OrderSideSell, amount: 60.019, price: 0.55, maker: "60010000", taker: "33005500"},
		{name: "zero amount", side: domain.OrderSideBuy, amount: 0, price: 0.5, wantErr: true},
		{name: "price above one", side: domain.OrderSideBuy, amount: 10, price: 1.2, wantErr: true},
		{name: "rounds to zero", side: domain.OrderSideSell, amount: 0.004, price: 0.5, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			maker, taker, err := marketAmounts(tc.side, tc.amount, tc.price)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.maker, maker.BigInt().String())
			assert.Equal(t, tc.taker, taker.BigInt().String())
		})
	}
}

func TestClob_FetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("token_id"))
		_, _ = io.WriteString(w, `{"market":"cond-1","asset_id":"tok-1","timestamp":"1700000000000",
			"bids":[{"price":"0.48","size":"100"},{"price":"0.47","size":"50"}],
			"asks":[{"price":"0.52","size":"80"},{"price":"bad","size":"1"}]}`)
	}))
	defer srv.Close()

	c := NewClobClient(ClobConfig{BaseURL: srv.URL})
	book, err := c.FetchOrderBook(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "cond-1", book.Market)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.InDelta(t, 0.52, ask.Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), book.Timestamp)
}

func TestClob_SubmitMarketOrder(t *testing.T) {
	var posted APIPostOrder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/neg-risk":
			_, _ = io.WriteString(w, `{"neg_risk":false}`)
		case "/order":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "api-key", r.Header.Get("POLY_API_KEY"))
			assert.Equal(t, "1700000000", r.Header.Get("POLY_TIMESTAMP"))
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			_, _ = io.WriteString(w, `{"success":true,"orderID":"0xabc","status":"matched"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newSignedClient(t, srv.URL)
	resp, err := c.SubmitMarketOrder(context.Background(), domain.MarketOrder{
		Side: domain.OrderSideBuy, Asset: "123", Amount: 100, Price: 0.5,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xabc", resp.OrderID)

	assert.Equal(t, "FOK", posted.OrderType)
	assert.Equal(t, "api-key", posted.Owner)
	assert.Equal(t, int64(42), posted.Order.Salt)
	assert.Equal(t, "BUY", posted.Order.Side)
	assert.Equal(t, "100000000", posted.Order.MakerAmount)
	assert.Equal(t, "200000000", posted.Order.TakerAmount)
	assert.Len(t, posted.Order.Signature, 132)
}

func TestClob_SubmitRejectedAndFailed(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/neg-risk" {
			_, _ = io.WriteString(w, `{"neg_risk":true}`)
			return
		}
		code := int(status.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = io.WriteString(w, `{"success":false,"errorMsg":"not enough balance / allowance"}`)
			return
		}
		_, _ = io.WriteString(w, `{"error":"Too Many Requests"}`)
	}))
	defer srv.Close()

	c := newSignedClient(t, srv.URL)
	order := domain.MarketOrder{Side: domain.OrderSideSell, Asset: "123", Amount: 10, Price: 0.4}

	resp, err := c.SubmitMarketOrder(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "not enough balance / allowance", resp.ErrorMsg)

	status.Store(http.StatusTooManyRequests)
	resp, err = c.SubmitMarketOrder(context.Background(), order)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, resp.HTTPStatus)
}

func TestClob_NoCredentials(t *testing.T) {
	c := NewClobClient(ClobConfig{BaseURL: "http://127.0.0.1:0"})
	_, err := c.SubmitMarketOrder(context.Background(), domain.MarketOrder{Side: domain.OrderSideBuy, Asset: "1", Amount: 1, Price: 0.5})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, c.RefreshBalanceAllowance(context.Background(), domain.AssetCollateral, ""), domain.ErrUnauthorized)
}

func TestClob_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/balance-allowance":
			assert.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
			_, _ = io.WriteString(w, `{"balance":"123456789","allowance":"0"}`)
		case "/balance-allowance/update":
			assert.Equal(t, "CONDITIONAL", r.URL.Query().Get("asset_type"))
			assert.Equal(t, "tok", r.URL.Query().Get("token_id"))
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	defer srv.Close()

	c := newSignedClient(t, srv.URL)
	bal, err := c.CollateralBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 123.456789, bal, 1e-9)
	require.NoError(t, c.RefreshBalanceAllowance(context.Background(), domain.AssetConditional, "tok"))
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(200, nil))
	assert.ErrorIs(t, checkHTTPStatus(401, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(403, []byte("blocked")), domain.ErrRateLimited)
	assert.ErrorIs(t, checkHTTPStatus(429, nil), domain.ErrRateLimited)
	assert.ErrorIs(t, checkHTTPStatus(404, nil), domain.ErrNotFound)
	assert.EqualError(t, checkHTTPStatus(500, []byte("boom")), "HTTP 500: boom")
}

type fakeGate struct {
	active bool
	trips  int
}

func (g *fakeGate) Active() bool { return g.active }

func (g *fakeGate) Trip(context.Context, string) time.Time {
	g.trips++
	g.active = true
	return time.Now().Add(time.Minute)
}

func newTestDataClient(url string, gate Gate) (*DataClient, *[]time.Duration) {
	d := NewDataClient(DataConfig{BaseURL: url, Attempts: 3, Backoff: 100 * time.Millisecond, Gate: gate}, discardLogger())
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func TestData_PositionsRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xtrader", r.URL.Query().Get("user"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[{"asset":"tok","conditionId":"cond","size":300,"avgPrice":0.4,"title":"T"}]`)
	}))
	defer srv.Close()

	d, slept := newTestDataClient(srv.URL, nil)
	positions, err := d.Positions(context.Background(), "0xtrader")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "0xtrader", positions[0].Wallet)
	assert.Equal(t, 300.0, positions[0].Size)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestData_RateLimitTripsGate(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "429", status: http.StatusTooManyRequests, body: "slow down"},
		{name: "403", status: http.StatusForbidden, body: "forbidden"},
		{name: "cloudflare page", status: http.StatusOK, body: "<html>Sorry, you have been blocked. Cloudflare Ray ID</html>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			gate := &fakeGate{}
			d, _ := newTestDataClient(srv.URL, gate)
			_, err := d.Positions(context.Background(), "0xtrader")
			require.ErrorIs(t, err, domain.ErrRateLimited)
			assert.Equal(t, 1, gate.trips)
			assert.Equal(t, int32(1), calls.Load())

			// While the gate is active no request goes out.
			_, err = d.Positions(context.Background(), "0xtrader")
			require.ErrorIs(t, err, domain.ErrRateLimited)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestData_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, slept := newTestDataClient(srv.URL, nil)
	_, err := d.Positions(context.Background(), "0xtrader")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *slept)
}

type staticBooks struct {
	book domain.OrderBook
}

func (s *staticBooks) FetchOrderBook(context.Context, string) (domain.OrderBook, error) {
	return s.book, nil
}

func TestPaperExchange(t *testing.T) {
	books := &staticBooks{book: domain.OrderBook{
		AssetID: "tok",
		Market:  "cond",
		Bids:    []domain.PriceLevel{{Price: 0.55, Size: 500}},
		Asks:    []domain.PriceLevel{{Price: 0.5, Size: 400}},
	}}
	p := NewPaperExchange(books, 150, discardLogger())
	ctx := context.Background()

	resp, err := p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideBuy, Asset: "tok", Amount: 100, Price: 0.5})
	require.NoError(t, err)
	require.True(t, resp.Success)

	cash, _ := p.CollateralBalance(ctx)
	assert.InDelta(t, 50, cash, 1e-9)

	positions, _ := p.Positions(ctx, "0xbot")
	require.Len(t, positions, 1)
	assert.Equal(t, "cond", positions[0].ConditionID)
	assert.InDelta(t, 200, positions[0].Size, 1e-9)
	assert.InDelta(t, 0.5, positions[0].AvgPrice, 1e-9)

	// Not enough cash.
	resp, err = p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideBuy, Asset: "tok", Amount: 100, Price: 0.5})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorMsg, "not enough balance")

	// Stale price: the book moved above the order price.
	resp, _ = p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideBuy, Asset: "tok", Amount: 10, Price: 0.45})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorMsg, "FOK")

	resp, err = p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideSell, Asset: "tok", Amount: 200, Price: 0.55})
	require.NoError(t, err)
	require.True(t, resp.Success)
	cash, _ = p.CollateralBalance(ctx)
	assert.InDelta(t, 160, cash, 1e-9)
	positions, _ = p.Positions(ctx, "0xbot")
	assert.Empty(t, positions)

	resp, _ = p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideSell, Asset: "tok", Amount: 1, Price: 0.55})
	assert.False(t, resp.Success)
}

func TestPaperExchange_PositionValueFeedsPositionLimit(t *testing.T) {
	books := &staticBooks{book: domain.OrderBook{
		AssetID: "tok",
		Market:  "cond",
		Bids:    []domain.PriceLevel{{Price: 0.45, Size: 500}},
		Asks:    []domain.PriceLevel{{Price: 0.5, Size: 1000}},
	}}
	p := NewPaperExchange(books, 1000, discardLogger())
	ctx := context.Background()
	limits := sizing.CopyStrategy{CopyRatio: 1, MaxPositionSizeUSD: 150}

	amount, _ := limits.CalculateOrderSize(100, 1, 1000, 0)
	require.InDelta(t, 100, amount, 1e-9)
	resp, err := p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideBuy, Asset: "tok", Amount: amount, Price: 0.5})
	require.NoError(t, err)
	require.True(t, resp.Success)

	positions, err := p.Positions(ctx, "0xbot")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.5, positions[0].CurPrice, 1e-9)
	assert.InDelta(t, 100, positions[0].CurrentValue, 1e-9)

	cash, _ := p.CollateralBalance(ctx)
	amount, notes := limits.CalculateOrderSize(100, 1, cash, positions[0].CurrentValue)
	assert.InDelta(t, 50, amount, 1e-9)
	assert.Contains(t, notes, "capped to position room $50.00")

	// A partial sell re-marks the remainder at the bid.
	resp, err = p.SubmitMarketOrder(ctx, domain.MarketOrder{Side: domain.OrderSideSell, Asset: "tok", Amount: 100, Price: 0.45})
	require.NoError(t, err)
	require.True(t, resp.Success)
	positions, _ = p.Positions(ctx, "0xbot")
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.45, positions[0].CurPrice, 1e-9)
	assert.InDelta(t, 45, positions[0].CurrentValue, 1e-9)
}

func TestHoldings_RoutesBotWallet(t *testing.T) {
	paper := NewPaperExchange(&staticBooks{}, 25, discardLogger())
	traders := &staticPositions{positions: []domain.HoldingPosition{{Asset: "tok", Size: 10}}}
	h := NewHoldings(traders, paper).WithBotPositions("0xBOT", paper)
	ctx := context.Background()

	bot, err := h.Positions(ctx, "0xbot")
	require.NoError(t, err)
	assert.Empty(t, bot)

	trader, err := h.Positions(ctx, "0xtrader")
	require.NoError(t, err)
	assert.Len(t, trader, 1)

	bal, err := h.CollateralBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, bal)
}

type staticPositions struct {
	positions []domain.HoldingPosition
}

func (s *staticPositions) Positions(context.Context, string) ([]domain.HoldingPosition, error) {
	return s.positions, nil
}
