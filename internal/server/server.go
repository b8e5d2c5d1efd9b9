package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/config"
	"github.com/BadgerOps/rollcall/internal/metrics"
)

// Server exposes backup operations over a JSON HTTP API.
type Server struct {
	service *backup.Service
	metrics *metrics.Metrics
	config  *config.Config
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer creates a new Server instance.
func NewServer(svc *backup.Service, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		service: svc,
		metrics: m,
		config:  cfg,
		logger:  logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// Exports and resets of a large program can take a while.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
// A Start that has not begun listening yet returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return srv.Shutdown(ctx)
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.setupRoutes())
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/tables", s.handleListTables)

	// Backup catalog
	mux.HandleFunc("POST /api/backups/export", s.handleExportBackup)
	mux.HandleFunc("POST /api/backups/import", s.handleImportBackup)
	mux.HandleFunc("POST /api/backups/scheduled", s.handleScheduledBackup)
	mux.HandleFunc("GET /api/backups", s.handleListBackups)
	mux.HandleFunc("POST /api/backups", s.handleUploadBackup)
	mux.HandleFunc("GET /api/backups/{id}", s.handleGetBackup)
	mux.HandleFunc("GET /api/backups/{id}/download", s.handleDownloadBackup)
	mux.HandleFunc("DELETE /api/backups/{id}", s.handleDeleteBackup)

	mux.HandleFunc("POST /api/period/reset", s.handleResetPeriod)

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"user", adminUser(r),
			"duration", time.Since(start))
	})
}
