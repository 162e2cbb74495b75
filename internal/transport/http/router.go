package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "stagectl/internal/errors"
	"stagectl/internal/infrastructure"
	"stagectl/internal/middleware"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	Workers WorkerSource
	Version string
	Logger  *slog.Logger
	// Providers supplies request tracing and the /metrics handler; nil
	// disables both.
	Providers *infrastructure.OTelProviders
}

// NewRouter builds the status server's chi router
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	if opts.Providers != nil {
		otelMiddleware, err := middleware.NewOTelMiddleware(opts.Providers)
		if err != nil {
			logger.Error("otel_middleware_failed", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}
	}

	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrMethodNotAllowed))
	})

	r.Get("/healthz", NewHealthHandler(opts.Workers, opts.Version, logger).HealthCheck)
	r.Mount("/workers", NewWorkersHandler(opts.Workers, logger).Routes())

	if opts.Providers != nil && opts.Providers.PrometheusHTTP != nil {
		r.Handle("/metrics", opts.Providers.PrometheusHTTP)
	}

	return r
}
