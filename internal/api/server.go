// Package api serves the management HTTP API: experiment inspection,
// forced cache refresh, assignment lookup, event ingestion, and a
// websocket feed of live analytics events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/splitgate/splitgate/internal/config"
	"github.com/splitgate/splitgate/internal/exposure"
	"github.com/splitgate/splitgate/internal/registry"
	"github.com/splitgate/splitgate/internal/store"
)

// Server is the management API server.
type Server struct {
	config     config.ServerConfig
	cache      *registry.Cache
	store      store.Store
	fanout     *exposure.Fanout
	wsHub      *WebSocketHub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a management API server. The fanout receives events
// posted to the ingestion endpoints; the caller typically registers the
// store sink, the webhook sink, and this server's own websocket hub on it.
func NewServer(
	cfg config.ServerConfig,
	cache *registry.Cache,
	st store.Store,
	fanout *exposure.Fanout,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		cache:  cache,
		store:  st,
		fanout: fanout,
		wsHub:  NewWebSocketHub(logger, cfg.CORS),
		mux:    http.NewServeMux(),
		logger: logger.With("component", "api.Server"),
	}
	s.registerRoutes()
	return s
}

// Hub returns the websocket hub so it can be registered as an event sink.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Experiments
	s.mux.HandleFunc("GET /api/experiments", s.handleListExperiments)
	s.mux.HandleFunc("GET /api/experiments/{id}", s.handleGetExperiment)
	s.mux.HandleFunc("POST /api/experiments/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/experiments/{id}/results", s.handleExperimentResults)

	// Assignments
	s.mux.HandleFunc("GET /api/assignments/{userID}", s.handleListAssignments)

	// Event ingestion
	s.mux.HandleFunc("POST /api/exposures", s.handleExposure)
	s.mux.HandleFunc("POST /api/conversions", s.handleConversion)

	// Planning and ops
	s.mux.HandleFunc("GET /api/samplesize", s.handleSampleSize)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	// Live event feed
	s.mux.HandleFunc("GET /ws", s.wsHub.HandleWebSocket)
}

// Handler returns the server's routes, wrapped with CORS when enabled.
// Exposed for tests and for mounting under the demo middleware.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return s.corsMiddleware(s.mux)
	}
	return s.mux
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving on the configured port. Blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("management API listening", "port", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and closes the websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
