// Package memory holds in-process stores for paper runs without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// TradeStore implements domain.TradeRepository over a map. Trades are
// seeded with Add or LoadFile; nothing else writes them.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[string]*domain.Trade
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{trades: make(map[string]*domain.Trade)}
}

// tradeRecord is the file format, keyed like the copy_trades columns.
type tradeRecord struct {
	ID              string    `json:"id"`
	TraderAddress   string    `json:"trader_address"`
	TransactionHash string    `json:"transaction_hash"`
	Asset           string    `json:"asset"`
	ConditionID     string    `json:"condition_id"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Size            float64   `json:"size"`
	Price           float64   `json:"price"`
	USDCSize        float64   `json:"usdc_size"`
	Title           string    `json:"title"`
	Outcome         string    `json:"outcome"`
	Timestamp       time.Time `json:"timestamp"`
}

func (r tradeRecord) toDomain() domain.Trade {
	typ := domain.TradeType(strings.ToUpper(r.Type))
	if typ == "" {
		typ = domain.TradeTypeTrade
	}
	return domain.Trade{
		ID:              r.ID,
		TraderAddress:   r.TraderAddress,
		TransactionHash: r.TransactionHash,
		Asset:           r.Asset,
		ConditionID:     r.ConditionID,
		Side:            domain.OrderSide(strings.ToUpper(r.Side)),
		Type:            typ,
		Size:            r.Size,
		Price:           r.Price,
		USDCSize:        r.USDCSize,
		Title:           r.Title,
		Outcome:         r.Outcome,
		Timestamp:       r.Timestamp,
	}
}

// ReadTradesFile decodes a JSON array of trades from path.
func ReadTradesFile(path string) ([]domain.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memory: open trades: %w", err)
	}
	defer f.Close()
	return DecodeTrades(f)
}

// DecodeTrades reads a JSON array of trades from r. Records without an id
// are rejected.
func DecodeTrades(r io.Reader) ([]domain.Trade, error) {
	var records []tradeRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("memory: decode trades: %w", err)
	}
	trades := make([]domain.Trade, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("memory: trade %d has no id", i)
		}
		trades[i] = rec.toDomain()
	}
	return trades, nil
}

// LoadFile seeds the store from a JSON array of trades.
func (s *TradeStore) LoadFile(path string) (int, error) {
	trades, err := ReadTradesFile(path)
	if err != nil {
		return 0, err
	}
	return s.AddAll(trades), nil
}

// Load seeds the store from a JSON array of trades read from r. An id
// already present is skipped.
func (s *TradeStore) Load(r io.Reader) (int, error) {
	trades, err := DecodeTrades(r)
	if err != nil {
		return 0, err
	}
	return s.AddAll(trades), nil
}

// AddAll adds trades and returns how many were new.
func (s *TradeStore) AddAll(trades []domain.Trade) int {
	added := 0
	for _, t := range trades {
		if s.Add(t) {
			added++
		}
	}
	return added
}

// Add inserts t unless a trade with the same id exists.
func (s *TradeStore) Add(t domain.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; ok {
		return false
	}
	s.trades[t.ID] = &t
	return true
}

func (s *TradeStore) Get(_ context.Context, id string) (domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: trade %s: %w", id, domain.ErrNotFound)
	}
	return *t, nil
}

// ListPending returns unprocessed trades oldest first.
func (s *TradeStore) ListPending(_ context.Context, limit int) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if !t.BotProcessed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkProcessed sets the processing fields once. A second call for the same
// trade returns domain.ErrAlreadyProcessed.
func (s *TradeStore) MarkProcessed(_ context.Context, id string, f domain.ProcessedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return fmt.Errorf("memory: mark %s: %w", id, domain.ErrNotFound)
	}
	if t.BotProcessed {
		return fmt.Errorf("memory: mark %s: %w", id, domain.ErrAlreadyProcessed)
	}
	at := f.ExecutedAt
	t.BotProcessed = true
	t.BotExecutedAt = &at
	t.BotExecutedSize = f.ExecutedSize
	t.BotResult = f.Result
	if f.MyBoughtSize != nil {
		t.MyBoughtSize = *f.MyBoughtSize
	}
	return nil
}

// ListTrackedBuys returns processed buys of trader in asset that still carry
// bought tokens.
func (s *TradeStore) ListTrackedBuys(_ context.Context, trader, asset string) ([]domain.TrackedBuy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrackedBuy
	for _, t := range s.trades {
		if t.BotProcessed && t.Side == domain.OrderSideBuy && t.MyBoughtSize > 0 &&
			strings.EqualFold(t.TraderAddress, trader) && t.Asset == asset {
			out = append(out, domain.TrackedBuy{TradeID: t.ID, MyBoughtSize: t.MyBoughtSize})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (s *TradeStore) ScaleTrackedBuys(_ context.Context, ids []string, factor float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if t, ok := s.trades[id]; ok {
			t.MyBoughtSize *= factor
		}
	}
	return nil
}

var _ domain.TradeRepository = (*TradeStore)(nil)

// ListProcessedBetween returns trades processed in [from, to), ordered by
// processing time.
func (s *TradeStore) ListProcessedBetween(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if !t.BotProcessed || t.BotExecutedAt == nil {
			continue
		}
		if at := *t.BotExecutedAt; !at.Before(from) && at.Before(to) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := *out[i].BotExecutedAt, *out[j].BotExecutedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
