package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// ArchiveLister lists archived trade objects.
type ArchiveLister interface {
	List(ctx context.Context) ([]domain.BlobInfo, error)
}

type TradeHandler struct {
	trades   interface{ List(limit int) []domain.Trade }
	persist  domain.TradeStore
	archives ArchiveLister
	logger   *slog.Logger
}

// NewTradeHandler creates the handler. persist and archives may be nil.
func NewTradeHandler(trades interface{ List(limit int) []domain.Trade }, persist domain.TradeStore, archives ArchiveLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, persist: persist, archives: archives, logger: logger}
}

// ListTrades returns recent trades newest first. ?source=db reads the
// database instead of the live mirror.
// GET /api/trades?limit=50&source=db
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "db" {
		if h.persist == nil {
			writeError(w, http.StatusNotImplemented, "trade database not configured")
			return
		}
		trades, err := h.persist.List(r.Context(), parseListOpts(r))
		if err != nil {
			writeServiceError(w, r, h.logger, "list trades", err)
			return
		}
		if trades == nil {
			trades = []domain.Trade{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": h.trades.List(parseLimit(r, 50))})
}

// ListArchives returns the archived trade objects.
// GET /api/archives
func (h *TradeHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotImplemented, "archive not configured")
		return
	}
	infos, err := h.archives.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
