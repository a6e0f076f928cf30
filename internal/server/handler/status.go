package handler

import (
	"net/http"

	"github.com/pvolkov/tradecopier/internal/mirror"
)

// Engine exposes the orchestrator state the API reports.
type Engine interface {
	State() mirror.State
	Counters() mirror.CounterSnapshot
}

// StatusHandler serves the engine status for the dashboard.
type StatusHandler struct {
	mode    string
	symbols []string
	engine  Engine
}

// NewStatusHandler creates a StatusHandler for the given mode and engine.
func NewStatusHandler(mode string, symbols []string, engine Engine) *StatusHandler {
	return &StatusHandler{mode: mode, symbols: symbols, engine: engine}
}

// GetStatus responds with the current mode, lifecycle state and symbol set.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"state":   h.engine.State().String(),
		"symbols": h.symbols,
	})
}
