// Package server provides the HTTP server of the debug API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/pairdb/localsync/internal/config"
	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/handler"
	"github.com/devrev/pairdb/localsync/internal/health"
	"github.com/devrev/pairdb/localsync/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	health       *health.HealthChecker
	errorHandler *syncerrors.Handler
	gatherer     prometheus.Gatherer
	cfg          *config.Config
	logger       *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	healthChecker *health.HealthChecker,
	errorHandler *syncerrors.Handler,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		health:       healthChecker,
		errorHandler: errorHandler,
		gatherer:     gatherer,
		cfg:          cfg,
		logger:       logger,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	chain := middleware.Chain(
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.Recovery(s.errorHandler, s.logger),
		middleware.Timeout(s.cfg.Server.RequestTimeout),
	)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handlers.Status).Methods(http.MethodGet)
	v1.HandleFunc("/cache/reset", s.handlers.ResetCache).Methods(http.MethodPost)
	v1.HandleFunc("/tables", s.handlers.ListTables).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{table}/rows", s.handlers.ListRows).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{table}/rows", s.handlers.CreateRow).Methods(http.MethodPost)
	v1.HandleFunc("/tables/{table}/rows/{id}", s.handlers.UpdateRow).Methods(http.MethodPut)
	v1.HandleFunc("/tables/{table}/rows/{id}", s.handlers.DeleteRow).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, syncerrors.APICodeInvalidRequest,
			"endpoint not found", nil, r.Header.Get(middleware.RequestIDHeader))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, syncerrors.APICodeInvalidRequest,
			"method not allowed", nil, r.Header.Get(middleware.RequestIDHeader))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
