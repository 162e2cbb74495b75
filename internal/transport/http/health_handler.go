package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"stagectl/internal/operations"
)

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status   string                          `json:"status"`
	Version  string                          `json:"version"`
	Uptime   string                          `json:"uptime"`
	Complete bool                            `json:"complete"`
	Workers  map[operations.WorkerStatus]int `json:"workers"`
}

// HealthHandler handles GET /healthz
type HealthHandler struct {
	workers WorkerSource
	version string
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(workers WorkerSource, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		workers: workers,
		version: version,
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck reports "running" while workers are pending or running,
// "degraded" once any worker has failed and "ok" otherwise.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	counts := h.workers.Counts()
	complete := h.workers.IsComplete()

	status := "ok"
	switch {
	case counts[operations.WorkerStatusFailed] > 0:
		status = "degraded"
	case !complete:
		status = "running"
	}

	render.JSON(w, r, HealthResponse{
		Status:   status,
		Version:  h.version,
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Complete: complete,
		Workers:  counts,
	})
}
