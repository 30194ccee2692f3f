// Package api provides the HTTP API server and handlers for the PureScan catalog.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/sse"
	"github.com/purescanapp/purescan-server/internal/store"
)

// Options configures the HTTP surface.
type Options struct {
	Name           string
	Version        string
	AllowedOrigins []string
	// RateLimit is the number of requests per minute allowed per client IP. 0 disables limiting.
	RateLimit int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store       *store.Store
	services    *Services
	sseManager  *sse.Manager
	sseHandler  *sse.Handler
	router      *chi.Mux
	api         huma.API
	logger      *slog.Logger
	rateLimiter *RateLimiter
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st *store.Store, services *Services, sseManager *sse.Manager, opts Options, log *slog.Logger) *Server {
	log = logger.OrDiscard(log)
	if opts.Name == "" {
		opts.Name = "PureScan API"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	s := &Server{
		store:      st,
		services:   services,
		sseManager: sseManager,
		router:     chi.NewRouter(),
		logger:     log,
	}
	if sseManager != nil {
		s.sseHandler = sse.NewHandler(sseManager, log)
	}
	if opts.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(opts.RateLimit, time.Minute, max(opts.RateLimit/10, 1))
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig(opts.Name, opts.Version)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Shutdown releases background resources held by the server.
func (s *Server) Shutdown() error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return nil
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(opts Options) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))
	s.router.Use(clientIPMiddleware)
	if s.rateLimiter != nil {
		s.router.Use(RateLimitMiddleware(s.rateLimiter, s.logger))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerLookupRoutes()
	s.registerProductRoutes()
	s.registerIngredientRoutes()
	s.registerSearchRoutes()

	// SSE streams are plain handlers; huma has no streaming response type.
	if s.sseHandler != nil {
		s.router.Get("/api/v1/events", s.sseHandler.ServeHTTP)
	}
}
