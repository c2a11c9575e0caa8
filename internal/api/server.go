package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Options controls the optional middleware.
type Options struct {
	// Users enables HTTP Basic auth on the tenant routes when non-nil.
	Users *auth.Service

	RateLimit domain.RateLimitConfig

	// Metrics enables GET /metrics and request instrumentation when non-nil.
	Metrics *telemetry.Metrics
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	limiter *RateLimiter
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler, opts Options) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(LoggingMiddleware)
	router.Use(middleware.Compress(5))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware)
		handler.recorder.WithMetrics(opts.Metrics)
	}

	var limiter *RateLimiter
	if opts.RateLimit.Enabled {
		limiter = NewRateLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst)
		router.Use(RateLimitMiddleware(limiter))
	}

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// Officer accounts are shared across tenants.
	router.Group(func(r chi.Router) {
		if opts.Users != nil {
			r.Use(RegistrationGate(opts.Users))
		}
		r.Post("/users", handler.Register)
		r.Get("/users/{username}", handler.UserExists)
	})
	router.Post("/auth/verify", handler.Verify)

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		if opts.Users != nil {
			r.Use(BasicAuthMiddleware(opts.Users))
		}

		r.Post("/assessments", handler.Assess)
		r.Get("/assessments", handler.ListAssessments)
		r.Get("/assessments/{id}", handler.GetAssessment)

		r.Get("/rules", handler.ListRules)
		r.Get("/model", handler.ModelInfo)

		r.Get("/portfolio/summary", handler.PortfolioSummary)

		r.Get("/borrowers", handler.ListBorrowers)
		r.Post("/borrowers", handler.SaveBorrower)
		r.Get("/borrowers/summary", handler.BorrowerSummary)
	})

	return &Server{
		router:  router,
		handler: handler,
		limiter: limiter,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
