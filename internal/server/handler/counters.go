package handler

import (
	"log/slog"
	"net/http"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// CountersHandler serves engine activity counters plus durable per-status
// totals from the replication store.
type CountersHandler struct {
	engine Engine
	store  domain.ReplicationStore
	logger *slog.Logger
}

// NewCountersHandler creates a CountersHandler.
func NewCountersHandler(engine Engine, store domain.ReplicationStore, logger *slog.Logger) *CountersHandler {
	return &CountersHandler{engine: engine, store: store, logger: logger}
}

// GetCounters responds with in-memory counters (since process start) and
// database totals (since first deployment).
// GET /api/counters
func (h *CountersHandler) GetCounters(w http.ResponseWriter, r *http.Request) {
	totals, err := h.store.CountByStatus(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count by status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read counters")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": h.engine.Counters(),
		"total":   totals,
	})
}
