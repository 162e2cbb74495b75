// Package middleware provides the HTTP middleware chain of the status
// server: request ids, structured request logging, panic recovery and
// OpenTelemetry instrumentation.
//
// Recommended order:
//
//	r.Use(middleware.RequestID)
//	r.Use(middleware.RealIP)
//	r.Use(otelMiddleware.Handler)
//	r.Use(middleware.StructuredLogger(logger))
//	r.Use(middleware.Recoverer(logger))
package middleware
