package polymarket

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is one price level of a /book response.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the /book response for a single token.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// APIOrder is the signed order as posted to /order.
type APIOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// APIPostOrder is the /order request body.
type APIPostOrder struct {
	Order     APIOrder `json:"order"`
	Owner     string   `json:"owner"`
	OrderType string   `json:"orderType"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

// APIBalanceAllowance is the /balance-allowance response. Balance is in
// base units (6 decimals).
type APIBalanceAllowance struct {
	Balance string `json:"balance"`
}

type apiNegRisk struct {
	NegRisk bool `json:"neg_risk"`
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIPosition is one entry of the Data API /positions response.
type APIPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// ToDomain converts the book, skipping levels that do not parse.
func (b *APIBook) ToDomain() domain.OrderBook {
	ob := domain.OrderBook{
		AssetID: b.AssetID,
		Market:  b.Market,
		Bids:    toLevels(b.Bids),
		Asks:    toLevels(b.Asks),
	}
	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		ob.Timestamp = time.UnixMilli(ms)
	}
	return ob
}

func toLevels(in []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{
			Price: price.InexactFloat64(),
			Size:  size.InexactFloat64(),
		})
	}
	return out
}

// ToDomain converts a Data API position.
func (p *APIPosition) ToDomain(wallet string) domain.HoldingPosition {
	return domain.HoldingPosition{
		Wallet:       wallet,
		Asset:        p.Asset,
		ConditionID:  p.ConditionID,
		Size:         p.Size,
		AvgPrice:     p.AvgPrice,
		CurrentValue: p.CurrentValue,
		CurPrice:     p.CurPrice,
		Outcome:      p.Outcome,
		Title:        p.Title,
	}
}

// fromBaseUnits converts a 6-decimal integer string to a float amount.
func fromBaseUnits(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Shift(-6).InexactFloat64(), nil
}
