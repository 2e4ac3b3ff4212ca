package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/poglesbyg/tracseq2.0-sub001/pkg/health"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/middleware"
)

// NewRouter creates a chi router with the operator API, probes and the
// metrics endpoint registered.
func NewRouter(
	h *Handler,
	healthHandler *health.Handler,
	metricsHandler http.Handler,
	serviceName string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/sample-registration", h.RegisterSample)
			r.Post("/library-prep", h.PrepareLibrary)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/statistics", h.GetStatistics)
			r.Post("/cleanup", h.CleanupTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Post("/{id}/cancel", h.CancelTransaction)
		})
	})

	return r
}
