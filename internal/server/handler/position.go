package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// PositionLister lists the ledger's open positions.
type PositionLister interface {
	List(ctx context.Context) ([]domain.Position, error)
}

// PositionHandler serves the ledger.
type PositionHandler struct {
	positions PositionLister
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionLister, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type positionJSON struct {
	ConditionID   string    `json:"condition_id"`
	Asset         string    `json:"asset"`
	TokensHeld    float64   `json:"tokens_held"`
	TotalInvested float64   `json:"total_invested"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	LastUpdated   time.Time `json:"last_updated"`
}

type listPositionsResponse struct {
	Positions     []positionJSON `json:"positions"`
	TotalInvested float64        `json:"total_invested"`
}

// ListPositions returns every open ledger position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	resp := listPositionsResponse{Positions: make([]positionJSON, 0, len(positions))}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, positionJSON{
			ConditionID:   p.ConditionID,
			Asset:         p.Asset,
			TokensHeld:    p.TokensHeld,
			TotalInvested: p.TotalInvested,
			AvgEntryPrice: p.AvgEntryPrice,
			LastUpdated:   p.LastUpdated,
		})
		resp.TotalInvested += p.TotalInvested
	}
	writeJSON(w, http.StatusOK, resp)
}
