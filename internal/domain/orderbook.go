package domain

import (
	"sort"
	"time"
)

// PriceLevel represents a single price level in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Notional returns price × size for the level.
func (l PriceLevel) Notional() float64 {
	return l.Price * l.Size
}

// OrderBook is a point-in-time order book for one outcome token. Level order
// follows the exchange's wire order, so use the Best* helpers.
type OrderBook struct {
	AssetID   string
	Market    string // condition ID
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or false if there are no bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	best := b.Bids[0]
	for _, l := range b.Bids[1:] {
		if l.Price > best.Price {
			best = l
		}
	}
	return best, true
}

// BestAsk returns the lowest ask, or false if there are no asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	best := b.Asks[0]
	for _, l := range b.Asks[1:] {
		if l.Price < best.Price {
			best = l
		}
	}
	return best, true
}

// AsksAscending returns a copy of the asks sorted from cheapest upwards.
func (b OrderBook) AsksAscending() []PriceLevel {
	out := make([]PriceLevel, len(b.Asks))
	copy(out, b.Asks)
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
