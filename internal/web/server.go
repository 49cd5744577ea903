// Package web provides the HTTP control API for load jobs.
package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/dropload/internal/catalog"
	"github.com/JonMunkholm/dropload/internal/config"
	"github.com/JonMunkholm/dropload/internal/jobs"
	"github.com/JonMunkholm/dropload/internal/logging"
	mw "github.com/JonMunkholm/dropload/internal/web/middleware"
)

// TableLister lists catalogued tables. *catalog.Store implements it.
type TableLister interface {
	List(ctx context.Context) ([]catalog.Entry, error)
}

// Pinger checks the database. *storage.Postgres implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Config config.ServerConfig

	// DropDir anchors job paths: relative paths resolve against it and
	// absolute paths must stay inside it. Empty accepts any path.
	DropDir     string
	SampleBytes int

	Tables TableLister // optional
	DB     Pinger      // optional
}

// Server is the HTTP server for the control API.
type Server struct {
	jobs   *jobs.Manager
	opts   Options
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(manager *jobs.Manager, opts Options) *Server {
	s := &Server{
		jobs:   manager,
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	cfg := opts.Config
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout, // 0 keeps event streams open
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.opts.Config.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.opts.Config.APIKeys))

		// Jobs
		r.Post("/jobs", s.handleStartJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{key}", s.handleGetJob)
		r.Get("/jobs/{key}/stream", s.handleStreamJob)
		r.Post("/jobs/{key}/cancel", s.handleCancelJob)
		r.Get("/status", s.handleStatus)

		// Dialect detection without loading
		r.Post("/detect", s.handleDetect)

		// Catalog
		r.Get("/tables", s.handleListTables)
	})
}

// Start begins listening for HTTP requests. It returns
// http.ErrServerClosed after Shutdown, also when Shutdown came first.
func (s *Server) Start() error {
	logging.Category(context.Background(), logging.CategoryHTTP).Info("starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// The API serves no documents
		w.Header().Set("Content-Security-Policy", "default-src 'none'")

		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Category(r.Context(), logging.CategoryHTTP).Error("json encode error", "error", err)
	}
}
