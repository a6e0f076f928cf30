package handler

import (
	"net/http"
	"time"

	"github.com/pvolkov/tradecopier/internal/mirror"
)

// HealthHandler serves the liveness endpoint. A load balancer only needs the
// 200, but the payload carries enough engine identity for a human glancing
// at it: which mode this copier runs in, its lifecycle state, and how long
// it has been up.
type HealthHandler struct {
	mode      string
	engine    Engine
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler for the given mode and engine.
func NewHealthHandler(mode string, engine Engine) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		engine:    engine,
		startedAt: time.Now().UTC(),
	}
}

// HealthCheck responds with liveness plus engine identity.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.engine.State() == mirror.StateStopped {
		status = "stopped"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"state":          h.engine.State().String(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
