// Package server provides the HTTP API with middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/auth"
	"github.com/knoguchi/rerank/internal/repository"
	"github.com/knoguchi/rerank/internal/service"
)

// maxRequestBytes bounds the search request body.
const maxRequestBytes = 1 << 20

// SearchRunner is the service behind the API.
type SearchRunner interface {
	Run(ctx context.Context, req service.Request) (*artifact.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*artifact.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*repository.RunSummary, int, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer wraps an HTTP server serving the search API
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	runner SearchRunner
	checks map[string]ReadinessCheck
	logger *slog.Logger
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	AllowedOrigins []string // CORS allowed origins
	Auth           *auth.Authenticator
	RateLimit      rate.Limit // requests per second per client; 0 disables
	RateBurst      int
	Gatherer       prometheus.Gatherer // served on /metrics when set
	Checks         map[string]ReadinessCheck
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg HTTPServerConfig, runner SearchRunner) (*HTTPServer, error) {
	if runner == nil {
		return nil, errors.New("search runner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPServer{
		runner: runner,
		checks: cfg.Checks,
		logger: logger,
	}

	// Create chi router
	router := chi.NewRouter()

	// Add middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	// Mount health check endpoints
	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", s.readinessCheckHandler())
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		if cfg.RateLimit > 0 {
			r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
		}
		r.Post("/search", s.handleSearch)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Delete("/runs/{id}", s.handleDeleteRun)
	})

	s.router = router
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type listRunsResponse struct {
	Runs  []runSummary `json:"runs"`
	Total int          `json:"total"`
}

type runSummary struct {
	ID             uuid.UUID `json:"id"`
	Query          string    `json:"query"`
	Backend        string    `json:"backend"`
	RerankModel    string    `json:"rerank_model"`
	PoolSize       int       `json:"pool_size"`
	TopK           int       `json:"top_k"`
	CandidateCount int       `json:"candidate_count"`
	ResultCount    int       `json:"result_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Kind: "invalid_request"})
		return
	}
	if req.PoolSize < 0 || req.TopK < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "pool_size and top_k must be positive", Kind: "invalid_request"})
		return
	}

	run, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *HTTPServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid run id", Kind: "invalid_request"})
		return
	}

	run, err := s.runner.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *HTTPServer) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid run id", Kind: "invalid_request"})
		return
	}

	if err := s.runner.DeleteRun(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	runs, total, err := s.runner.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listRunsResponse{Runs: make([]runSummary, len(runs)), Total: total}
	for i, run := range runs {
		resp.Runs[i] = runSummary(*run)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request_failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// StatusFor maps a service error to an HTTP status and error kind.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrRunStoreDisabled):
		return http.StatusNotImplemented, "run_store_disabled"
	}

	kind := service.ErrorKind(err)
	switch kind {
	case "invalid_request":
		return http.StatusBadRequest, kind
	case "backend_query":
		return http.StatusUnprocessableEntity, kind
	case "backend_unavailable", "rerank_unavailable":
		return http.StatusServiceUnavailable, kind
	case "rerank_service", "reconciliation":
		return http.StatusBadGateway, kind
	case "canceled":
		return http.StatusGatewayTimeout, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readinessCheckHandler runs every configured check with a short deadline.
func (s *HTTPServer) readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}

		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
