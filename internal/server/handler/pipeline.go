package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// Triggerer queues an out-of-schedule refresh.
type Triggerer interface {
	Trigger() bool
}

// PipelineHandler serves pipeline trigger endpoints.
type PipelineHandler struct {
	pipeline Triggerer
	logger   *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. pipeline may be nil when the
// process runs no refresher.
func NewPipelineHandler(pipeline Triggerer, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline, logger: logger}
}

// TriggerPipeline enqueues one refresh round.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not running in this process")
		return
	}
	queued := h.pipeline.Trigger()
	h.logger.InfoContext(r.Context(), "handler: pipeline trigger requested", slog.Bool("queued", queued))

	msg := "refresh enqueued"
	if !queued {
		msg = "refresh already pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"message":     msg,
		"requestedAt": time.Now().UTC().Format(time.RFC3339),
	})
}
