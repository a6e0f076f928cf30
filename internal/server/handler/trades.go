package handler

import (
	"log/slog"
	"net/http"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// TradesHandler serves replication history.
type TradesHandler struct {
	store  domain.ReplicationStore
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler backed by the given store.
func NewTradesHandler(store domain.ReplicationStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{store: store, logger: logger}
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []domain.ReplicationRecord `json:"trades"`
}

// ListTrades returns recent replication records, newest first.
// GET /api/trades?limit=50&offset=0&since=2026-01-01T00:00:00Z
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if records == nil {
		records = []domain.ReplicationRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: records})
}
