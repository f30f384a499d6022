package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/service"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *service.Service, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, cache, bus, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/evaluate", handler.Evaluate)
		r.Post("/evaluate/batch", handler.EvaluateBatch)

		r.Get("/evaluations/{id}", handler.GetEvaluation)
		r.Get("/claims/{id}", handler.GetClaim)

		// Custom rules are global; the tenant header is still required
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		r.Get("/reference", handler.GetReference)
		r.Put("/reference", handler.PutReference)
		r.Post("/reference/reload", handler.ReloadReference)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
