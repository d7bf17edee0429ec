package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// StreamReader reads the durable resolved-transaction log.
type StreamReader interface {
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error)
}

type TransactionHandler struct {
	pending interface {
		FindByType(typ string) []domain.PendingTx
	}
	stream StreamReader
	logger *slog.Logger
}

// NewTransactionHandler creates the handler. stream may be nil.
func NewTransactionHandler(pending interface{ FindByType(string) []domain.PendingTx }, stream StreamReader, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{pending: pending, stream: stream, logger: logger}
}

// ListPending returns in-flight transactions, optionally of one type.
// GET /api/transactions?type=offer
func (h *TransactionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	txs := h.pending.FindByType(r.URL.Query().Get("type"))
	if txs == nil {
		txs = []domain.PendingTx{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type resolvedEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListResolved pages through the resolved-transaction log.
// GET /api/transactions/resolved?after=0&limit=50
func (h *TransactionHandler) ListResolved(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotImplemented, "signal bus not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamTxResolved, after, parseLimit(r, 50))
	if err != nil {
		writeServiceError(w, r, h.logger, "read resolved", err)
		return
	}
	out := make([]resolvedEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, resolvedEntry{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": out})
}
