package handler

import (
	"log/slog"
	"net/http"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// PositionsHandler serves the latest position snapshots. Reads go to the
// cache first and fall back to the database when the cache is cold.
type PositionsHandler struct {
	cache  domain.PositionCache
	store  domain.PositionStore
	logger *slog.Logger
}

// NewPositionsHandler creates a PositionsHandler. cache may be nil.
func NewPositionsHandler(cache domain.PositionCache, store domain.PositionStore, logger *slog.Logger) *PositionsHandler {
	return &PositionsHandler{cache: cache, store: store, logger: logger}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Account   string                    `json:"account"`
	Positions []domain.PositionSnapshot `json:"positions"`
}

// ListPositions returns the open positions for one account.
// GET /api/positions?account=source|target
func (h *PositionsHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	account := domain.AccountRole(r.URL.Query().Get("account"))
	if account != domain.AccountSource && account != domain.AccountTarget {
		writeError(w, http.StatusBadRequest, "account query parameter must be source or target")
		return
	}

	snaps, err := h.lookup(r, account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("account", string(account)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if snaps == nil {
		snaps = []domain.PositionSnapshot{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{
		Account:   string(account),
		Positions: snaps,
	})
}

func (h *PositionsHandler) lookup(r *http.Request, account domain.AccountRole) ([]domain.PositionSnapshot, error) {
	if h.cache != nil {
		snaps, err := h.cache.GetAll(r.Context(), account)
		if err == nil {
			return snaps, nil
		}
		if !domain.IsNotFound(err) {
			h.logger.WarnContext(r.Context(), "handler: position cache read failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return h.store.List(r.Context(), account)
}
