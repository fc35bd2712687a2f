package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowforge/orchestrator/internal/api/handlers"
	apiMiddleware "github.com/flowforge/orchestrator/internal/api/middleware"
	"github.com/flowforge/orchestrator/internal/api/websocket"
	"github.com/flowforge/orchestrator/internal/config"
	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/engine"
	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/store"
)

// Server is the admin/control-plane HTTP server: it triggers, inspects and
// cancels executions, inspects workers and the dead-letter queue, and fans
// out execution lifecycle events over WebSocket.
type Server struct {
	router           *chi.Mux
	config           *config.Config
	executionHandler *handlers.ExecutionHandler
	adminHandler     *handlers.AdminHandler
	wsHub            *websocket.Hub
	wsHandler        *websocket.Handler
	publisher        events.Publisher
}

// NewServer wires the execution engine, dead-letter store and (optional)
// event publisher into a router.
func NewServer(cfg *config.Config, db *store.DB, eng *engine.Engine, dlq *deadletter.Store, publisher events.Publisher) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:           chi.NewRouter(),
		config:           cfg,
		executionHandler: handlers.NewExecutionHandler(eng),
		adminHandler:     handlers.NewAdminHandler(db, dlq),
		wsHub:            wsHub,
		wsHandler:        websocket.NewHandler(wsHub),
		publisher:        publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authCfg := &apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   apiKeySet(s.config.Auth.APIKeys),
	}
	s.router.Use(apiMiddleware.Auth(authCfg))
}

func apiKeySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

func (s *Server) setupRoutes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		if s.config.Queue.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Queue.RateLimitRPS))
		}

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/{name}/trigger", s.executionHandler.Trigger)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.executionHandler.List)
			r.Get("/{executionID}", s.executionHandler.Get)
			r.Get("/{executionID}/tasks", s.executionHandler.Tasks)
			r.Post("/{executionID}/cancel", s.executionHandler.Cancel)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(apiMiddleware.RequireRole("admin"))

			r.Get("/workers", s.adminHandler.ListWorkers)
			r.Get("/workers/{workerID}", s.adminHandler.GetWorker)

			r.Get("/dlq", s.adminHandler.ListDLQ)
			r.Get("/dlq/{taskID}", s.adminHandler.GetDLQEntry)
			r.Post("/dlq/{taskID}/reprocess", s.adminHandler.ReprocessDLQ)
			r.Post("/dlq/reprocess", s.adminHandler.ReprocessDLQBatch)
		})
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start runs the WebSocket hub's dispatch loop until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop drains the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router, for tests and for http.Server.Handler.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
