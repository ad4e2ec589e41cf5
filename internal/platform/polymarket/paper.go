package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// BookSource fetches live order books.
type BookSource interface {
	FetchOrderBook(ctx context.Context, asset string) (domain.OrderBook, error)
}

const (
	paperFOKRejection   = "order couldn't be fully filled. FOK orders are fully filled or killed."
	paperFundsRejection = "not enough balance / allowance"
)

type paperHolding struct {
	conditionID string
	tokens      float64
	cost        float64
	mark        float64 // price of the last fill
}

// PaperExchange reads live books and fills orders against the best level
// without touching the exchange. It keeps its own cash and token balances.
type PaperExchange struct {
	books  BookSource
	logger *slog.Logger

	mu       sync.Mutex
	cash     float64
	holdings map[string]*paperHolding // asset -> holding
}

// NewPaperExchange creates a paper exchange starting with cash USDC.
func NewPaperExchange(books BookSource, cash float64, logger *slog.Logger) *PaperExchange {
	return &PaperExchange{
		books:    books,
		logger:   logger.With(slog.String("component", "paper_exchange")),
		cash:     cash,
		holdings: make(map[string]*paperHolding),
	}
}

// FetchOrderBook passes through to the live book source.
func (p *PaperExchange) FetchOrderBook(ctx context.Context, asset string) (domain.OrderBook, error) {
	return p.books.FetchOrderBook(ctx, asset)
}

// SubmitMarketOrder fills o in full at the current best level or rejects it
// the way the exchange rejects a fill-or-kill order.
func (p *PaperExchange) SubmitMarketOrder(ctx context.Context, o domain.MarketOrder) (domain.OrderResponse, error) {
	if _, _, err := marketAmounts(o.Side, o.Amount, o.Price); err != nil {
		return domain.OrderResponse{}, fmt.Errorf("polymarket/paper: %w: %v", domain.ErrInvalidOrder, err)
	}
	book, err := p.books.FetchOrderBook(ctx, o.Asset)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("polymarket/paper: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reject := func(msg string) (domain.OrderResponse, error) {
		return domain.OrderResponse{Success: false, Status: "unmatched", ErrorMsg: msg}, nil
	}

	switch o.Side {
	case domain.OrderSideBuy:
		ask, ok := book.BestAsk()
		if !ok || ask.Price > o.Price || ask.Notional() < o.Amount {
			return reject(paperFOKRejection)
		}
		if o.Amount > p.cash {
			return reject(paperFundsRejection)
		}
		h := p.holding(o.Asset, book.Market)
		h.tokens += o.Amount / ask.Price
		h.cost += o.Amount
		h.mark = ask.Price
		p.cash -= o.Amount

	case domain.OrderSideSell:
		bid, ok := book.BestBid()
		if !ok || bid.Price < o.Price || bid.Size < o.Amount {
			return reject(paperFOKRejection)
		}
		h, held := p.holdings[o.Asset]
		if !held || h.tokens < o.Amount {
			return reject(paperFundsRejection)
		}
		h.cost *= 1 - o.Amount/h.tokens
		h.tokens -= o.Amount
		h.mark = bid.Price
		p.cash += o.Amount * bid.Price
		if h.tokens <= domain.DefaultClosingEpsilon {
			delete(p.holdings, o.Asset)
		}

	default:
		return domain.OrderResponse{}, fmt.Errorf("polymarket/paper: %w: side %q", domain.ErrInvalidOrder, o.Side)
	}

	id := uuid.NewString()
	p.logger.InfoContext(ctx, "paper fill",
		slog.String("order_id", id),
		slog.String("side", string(o.Side)),
		slog.String("asset", o.Asset),
		slog.Float64("amount", o.Amount),
		slog.Float64("price", o.Price),
		slog.Float64("cash", p.cash),
	)
	return domain.OrderResponse{Success: true, OrderID: id, Status: "matched"}, nil
}

func (p *PaperExchange) holding(asset, conditionID string) *paperHolding {
	h, ok := p.holdings[asset]
	if !ok {
		h = &paperHolding{conditionID: conditionID}
		p.holdings[asset] = h
	}
	return h
}

// RefreshBalanceAllowance is a no-op; paper balances are always current.
func (p *PaperExchange) RefreshBalanceAllowance(context.Context, domain.AssetType, string) error {
	return nil
}

// CollateralBalance returns the simulated cash balance.
func (p *PaperExchange) CollateralBalance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

// Positions returns the simulated holdings, ordered by asset, valued at the
// price of each asset's last fill.
func (p *PaperExchange) Positions(_ context.Context, wallet string) ([]domain.HoldingPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.HoldingPosition, 0, len(p.holdings))
	for asset, h := range p.holdings {
		pos := domain.HoldingPosition{
			Wallet:      wallet,
			Asset:       asset,
			ConditionID: h.conditionID,
			Size:        h.tokens,
			CurPrice:    h.mark,
		}
		pos.CurrentValue = h.tokens * h.mark
		if h.tokens > 0 {
			pos.AvgPrice = h.cost / h.tokens
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}
