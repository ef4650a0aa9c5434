// Package api provides HTTP API server components.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ideaforge/ideaforge/config"
	"github.com/ideaforge/ideaforge/pkg/api/handlers"
	"github.com/ideaforge/ideaforge/pkg/api/middleware"
	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/logger"
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	// Runs handles run execution and history endpoints
	Runs *handlers.RunHandler

	// Workflows handles workflow validation endpoints
	Workflows *handlers.WorkflowHandler

	// Agents handles the agent catalog
	Agents *handlers.AgentHandler

	// Events streams run and step events over websocket
	Events *handlers.WebSocketHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.BodyLimit(cfg.Server.HTTP.MaxBodyBytes))

	// Set before RegisterRoutes so sub-routers inherit them.
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	// Register routes
	RegisterRoutes(r, handlers, cfg.Server.HTTP.ReadTimeout)

	return r
}

// RegisterRoutes registers all API routes. Short requests are bounded by
// requestTimeout. Run execution and the event stream are not: runs are
// bounded by the server write timeout and the configured run timeout.
func RegisterRoutes(r chi.Router, handlers *Handlers, requestTimeout time.Duration) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Runs != nil {
			r.Post("/runs", handlers.Runs.CreateRun)
		}
		if handlers.Events != nil {
			r.Get("/events", handlers.Events.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			// Run history routes
			if handlers.Runs != nil {
				r.Get("/runs", handlers.Runs.ListRuns)
				r.Get("/runs/{id}", handlers.Runs.GetRun)
				r.Delete("/runs/{id}", handlers.Runs.DeleteRun)
				r.Get("/runs/{id}/documents", handlers.Runs.ListDocuments)
			}

			// Workflow routes
			if handlers.Workflows != nil {
				r.Post("/workflows/validate", handlers.Workflows.ValidateWorkflow)
				r.Get("/workflows/default", handlers.Workflows.DefaultWorkflow)
			}

			// Agent catalog routes
			if handlers.Agents != nil {
				r.Route("/agents", func(r chi.Router) {
					r.Get("/", handlers.Agents.ListAgents)
					r.Post("/", handlers.Agents.CreateAgent)
					r.Get("/{id}", handlers.Agents.GetAgent)
					r.Put("/{id}", handlers.Agents.UpdateAgent)
					r.Delete("/{id}", handlers.Agents.DeleteAgent)
				})
			}
		})
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	response.Error(w, http.StatusNotFound, response.ErrCodeNotFound,
		"no route for "+r.Method+" "+r.URL.Path, middleware.GetRequestID(r.Context()))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed,
		r.Method+" is not supported on "+r.URL.Path, middleware.GetRequestID(r.Context()))
}
