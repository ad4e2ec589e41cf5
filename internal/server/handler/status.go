package handler

import (
	"net/http"
	"time"
)

// Cooldown is the read side of the rate-limit gate.
type Cooldown interface {
	Active() bool
	Remaining() time.Duration
	Until() time.Time
}

// StatusHandler reports the engine mode and the cooldown state.
type StatusHandler struct {
	mode      string
	wallet    string
	startedAt time.Time
	cooldown  Cooldown
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, wallet string, cooldown Cooldown) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		wallet:    wallet,
		startedAt: time.Now(),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

type statusResponse struct {
	Mode              string     `json:"mode"`
	Wallet            string     `json:"wallet"`
	UptimeSeconds     int64      `json:"uptime_seconds"`
	CooldownActive    bool       `json:"cooldown_active"`
	CooldownRemaining string     `json:"cooldown_remaining,omitempty"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
}

// GetStatus responds with the mode, wallet and cooldown.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		Wallet:        h.wallet,
		UptimeSeconds: int64(h.now().Sub(h.startedAt).Seconds()),
	}
	if h.cooldown.Active() {
		until := h.cooldown.Until().UTC()
		resp.CooldownActive = true
		resp.CooldownRemaining = h.cooldown.Remaining().Round(time.Second).String()
		resp.CooldownUntil = &until
	}
	writeJSON(w, http.StatusOK, resp)
}
