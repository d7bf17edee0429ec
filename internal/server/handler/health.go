package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/otcdesk/internal/state"
)

// StatusSources are the counters reported by /api/status.
type StatusSources struct {
	State   *state.App
	Offers  interface{ Len() int }
	Trades  interface{ Len() int }
	Pending interface{ Len() int }
	Mode    string
	Started time.Time
}

// HealthHandler serves liveness and session status.
type HealthHandler struct {
	src    StatusSources
	logger *slog.Logger
}

func NewHealthHandler(src StatusSources, logger *slog.Logger) *HealthHandler {
	if src.Started.IsZero() {
		src.Started = time.Now()
	}
	return &HealthHandler{src: src, logger: logger}
}

// HealthCheck answers 200 while the process is up.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type statusResponse struct {
	state.Snapshot
	Connected      bool   `json:"connected"`
	Mode           string `json:"mode"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Offers         int    `json:"offers"`
	Trades         int    `json:"trades"`
	PendingTxCount int    `json:"pending_transactions"`
}

// Status reports network, account, loading progress and store sizes.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.src.State.Snapshot()
	resp := statusResponse{
		Snapshot:      snap,
		Connected:     snap.Connected(),
		Mode:          h.src.Mode,
		UptimeSeconds: int64(time.Since(h.src.Started).Seconds()),
	}
	if h.src.Offers != nil {
		resp.Offers = h.src.Offers.Len()
	}
	if h.src.Trades != nil {
		resp.Trades = h.src.Trades.Len()
	}
	if h.src.Pending != nil {
		resp.PendingTxCount = h.src.Pending.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}
