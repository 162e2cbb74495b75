// Package http implements the status server that can run alongside an
// asynchronous dispatch. It exposes worker lifecycle snapshots, a health
// summary and the Prometheus registry:
//
//	GET /healthz        overall state and per-status worker counts
//	GET /workers        every tracked worker
//	GET /workers/{id}   one worker, 404 API error when unknown
//	GET /metrics        Prometheus exposition (404 when metrics are off)
//
// Handlers stay thin: they read from a WorkerSource and render JSON with
// go-chi/render.
package http
