package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/rwamarket/internal/service"
)

// StatusSource reports the latest build.
type StatusSource interface {
	Status() service.Status
}

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	mode      string
	source    StatusSource
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, source StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, source: source, startedAt: time.Now().UTC()}
}

// GetStatus responds with the mode, uptime and latest build summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":          h.mode,
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
		"market":        h.source.Status(),
	})
}
