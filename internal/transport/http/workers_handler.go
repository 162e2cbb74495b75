package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stagectl/internal/errors"
	"stagectl/internal/operations"
)

// WorkersResponse is the body of GET /workers
type WorkersResponse struct {
	Workers []operations.WorkerSnapshot `json:"workers"`
	Total   int                         `json:"total"`
}

// WorkersHandler serves worker snapshots
type WorkersHandler struct {
	workers WorkerSource
	logger  *slog.Logger
}

// NewWorkersHandler creates a new workers handler
func NewWorkersHandler(workers WorkerSource, logger *slog.Logger) *WorkersHandler {
	return &WorkersHandler{
		workers: workers,
		logger:  logger.With(slog.String("handler", "workers")),
	}
}

// Routes sets up the worker routes
func (h *WorkersHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListWorkers)
	r.Get("/{id}", h.GetWorker)
	return r
}

// ListWorkers handles GET /workers
func (h *WorkersHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	list := h.workers.List()
	if list == nil {
		list = []operations.WorkerSnapshot{}
	}
	render.JSON(w, r, WorkersResponse{Workers: list, Total: len(list)})
}

// GetWorker handles GET /workers/{id}
func (h *WorkersHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshot, ok := h.workers.Get(id)
	if !ok {
		h.logger.DebugContext(r.Context(), "worker_not_found", slog.String("worker", id))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("worker "+id)))
		return
	}
	render.JSON(w, r, snapshot)
}
