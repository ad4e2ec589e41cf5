package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// TradeReader reads a single copy trade.
type TradeReader interface {
	Get(ctx context.Context, id string) (domain.Trade, error)
}

// AuditReader lists the audit entries of a trade, newest first.
type AuditReader interface {
	ListByTrade(ctx context.Context, tradeID string, limit int) ([]domain.AuditEntry, error)
}

// TradeHandler shows how the engine handled a trade.
type TradeHandler struct {
	trades TradeReader
	audit  AuditReader
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. audit may be nil.
func NewTradeHandler(trades TradeReader, audit AuditReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, audit: audit, logger: logger}
}

type tradeJSON struct {
	ID              string     `json:"id"`
	TraderAddress   string     `json:"trader_address"`
	Asset           string     `json:"asset"`
	ConditionID     string     `json:"condition_id"`
	Side            string     `json:"side"`
	Type            string     `json:"type"`
	Size            float64    `json:"size"`
	Price           float64    `json:"price"`
	USDCSize        float64    `json:"usdc_size"`
	Title           string     `json:"title,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	BotProcessed    bool       `json:"bot_processed"`
	BotExecutedAt   *time.Time `json:"bot_executed_at,omitempty"`
	BotExecutedSize float64    `json:"bot_executed_size"`
	MyBoughtSize    float64    `json:"my_bought_size"`
	BotResult       string     `json:"bot_result,omitempty"`
}

type auditJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

type tradeResponse struct {
	Trade tradeJSON   `json:"trade"`
	Audit []auditJSON `json:"audit"`
}

// GetTrade returns the trade with its processing fields and audit history.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.trades.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}

	resp := tradeResponse{
		Trade: tradeJSON{
			ID:              t.ID,
			TraderAddress:   t.TraderAddress,
			Asset:           t.Asset,
			ConditionID:     t.ConditionID,
			Side:            string(t.Side),
			Type:            string(t.Type),
			Size:            t.Size,
			Price:           t.Price,
			USDCSize:        t.USDCSize,
			Title:           t.Title,
			Timestamp:       t.Timestamp,
			BotProcessed:    t.BotProcessed,
			BotExecutedAt:   t.BotExecutedAt,
			BotExecutedSize: t.BotExecutedSize,
			MyBoughtSize:    t.MyBoughtSize,
			BotResult:       t.BotResult,
		},
		Audit: []auditJSON{},
	}

	if h.audit != nil {
		entries, err := h.audit.ListByTrade(r.Context(), id, parseLimit(r))
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: list audit failed",
				slog.String("trade_id", id),
				slog.String("error", err.Error()),
			)
		}
		for _, e := range entries {
			resp.Audit = append(resp.Audit, auditJSON{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
