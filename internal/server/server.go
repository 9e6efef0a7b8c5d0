package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/assetcdn/internal/metrics"
	"github.com/BadgerOps/assetcdn/internal/resource"
	"github.com/BadgerOps/assetcdn/internal/store"
)

// Server exposes the resource manager over HTTP.
type Server struct {
	manager    *resource.Manager
	store      *store.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new Server instance. st and mt may be nil, which
// disables the history and metrics endpoints.
func NewServer(
	mgr *resource.Manager,
	st *store.Store,
	mt *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: mgr,
		store:   st,
		metrics: mt,
		logger:  logger,
	}
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes registers all HTTP routes on a new ServeMux.
// Uses Go 1.22+ enhanced routing with method prefixes and path variables.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/ready", s.handleReady)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/health/refresh", s.handleHealthRefresh)
	mux.HandleFunc("GET /api/health/history", s.handleHealthHistory)
	mux.HandleFunc("GET /api/health/history/{id}", s.handleHealthRound)

	mux.Handle("GET /metrics", s.metrics.Handler())

	return mux
}
