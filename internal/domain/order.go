package domain

// OrderSide represents the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the time-in-force of an order.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeFAK OrderType = "FAK"
)

// AssetType selects which balance the exchange refreshes in its
// balance/allowance cache.
type AssetType string

const (
	AssetCollateral  AssetType = "COLLATERAL"
	AssetConditional AssetType = "CONDITIONAL"
)

// MarketOrder is a fill-or-kill order against the best level. Amount is
// USDC notional for buys and tokens for sells.
type MarketOrder struct {
	Side   OrderSide
	Asset  string
	Amount float64
	Price  float64
}

// OrderResponse is the exchange's answer to a submission. ErrorMsg and Raw
// carry the free-text payload the error classifier inspects.
type OrderResponse struct {
	Success    bool
	OrderID    string
	Status     string
	ErrorMsg   string
	HTTPStatus int
	Raw        []byte
}
