// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sagalog/sagalog/config"
	"github.com/sagalog/sagalog/pkg/api/handlers"
	"github.com/sagalog/sagalog/pkg/api/middleware"
	"github.com/sagalog/sagalog/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Saga handles saga inspection and control endpoints.
	Saga *handlers.SagaHandler

	// Health handles health check endpoints.
	Health *handlers.HealthHandler

	// WebSocket handles the event stream endpoint.
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder

	// Tracing enables HTTP server spans when set.
	Tracing bool
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}
	if handlers.Tracing {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.RateLimit(&cfg.Server.RateLimit))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Saga != nil {
			r.Get("/sources", handlers.Saga.ListSources)
			r.Route("/sources/{source}/sagas", func(r chi.Router) {
				r.Get("/", handlers.Saga.ListSagas)
				r.Get("/{sagaID}", handlers.Saga.GetSaga)
				r.Get("/{sagaID}/messages", handlers.Saga.GetMessages)
				r.Post("/{sagaID}/abort", handlers.Saga.AbortSaga)
				r.Delete("/{sagaID}", handlers.Saga.DeleteSaga)
			})
		}
	})

	// Health check routes (not versioned).
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/version", handlers.Health.Version)
	}

	// Live event stream.
	if handlers.WebSocket != nil {
		r.Get("/ws/events", handlers.WebSocket.ServeHTTP)
	}
}
