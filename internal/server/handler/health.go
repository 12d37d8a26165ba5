package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck reports that the process is alive and for how long.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "settled",
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"timestamp":      now.Format(time.RFC3339),
	})
}
