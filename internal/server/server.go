// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/metrics"
	"github.com/whalez0416/keepy/internal/moderation"
	"github.com/whalez0416/keepy/internal/scheduler"
	"github.com/whalez0416/keepy/internal/storage"
	"github.com/whalez0416/keepy/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// HTTPServer represents the admin/ops HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	scheduler      *scheduler.Scheduler
	moderation     *moderation.Service
	bridgeClient   *bridge.Client
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	sched *scheduler.Scheduler,
	mod *moderation.Service,
	bridgeClient *bridge.Client,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		scheduler:      sched,
		moderation:     mod,
		bridgeClient:   bridgeClient,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoint
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Target endpoints
	api.HandleFunc("/targets", s.listTargetsHandler).Methods("GET")
	api.HandleFunc("/targets", s.createTargetHandler).Methods("POST")
	api.HandleFunc("/targets/{id}", s.getTargetHandler).Methods("GET")
	api.HandleFunc("/targets/{id}", s.updateTargetHandler).Methods("PUT")
	api.HandleFunc("/targets/{id}", s.removeTargetHandler).Methods("DELETE")
	api.HandleFunc("/targets/{id}/secret", s.rotateSecretHandler).Methods("POST")

	// Onboarding endpoints
	api.HandleFunc("/targets/{id}/ping", s.pingTargetHandler).Methods("POST")
	api.HandleFunc("/targets/{id}/discover", s.discoverBoardsHandler).Methods("POST")
	api.HandleFunc("/targets/{id}/link", s.linkBoardHandler).Methods("POST")

	// Sweep endpoints
	api.HandleFunc("/targets/{id}/sweep", s.forceSweepHandler).Methods("POST")

	// Event endpoints
	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
	api.HandleFunc("/events/{id}", s.getEventHandler).Methods("GET")
	api.HandleFunc("/events/{id}/delete", s.deletePostHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Push initial health so the first scrape is not empty
	if s.metricsManager != nil {
		s.updateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.updateSystemMetrics()
	}
}

// updateSystemMetrics refreshes the runtime gauges and reports component
// health through the manager so the gauge and the health endpoint stay
// in step.
func (s *HTTPServer) updateSystemMetrics() {
	s.metricsManager.UpdateSystemMetrics()

	if s.storage != nil {
		health := s.storage.GetHealth()
		s.metricsManager.SetComponentHealth("storage", health.Healthy)
	}
	if s.scheduler != nil {
		s.metricsManager.SetComponentHealth("scheduler", s.scheduler.IsRunning())
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}

// writeAppError maps an AppError code to an HTTP status
func (s *HTTPServer) writeAppError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*utils.AppError)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Internal error", err)
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case utils.ErrCodeNotFound:
		status = http.StatusNotFound
	case utils.ErrCodeValidation:
		status = http.StatusBadRequest
	case utils.ErrCodeForbidden, utils.ErrCodeAuth:
		status = http.StatusForbidden
	case utils.ErrCodeConflict:
		status = http.StatusConflict
	case utils.ErrCodeBridge, utils.ErrCodeConnection:
		status = http.StatusBadGateway
	}

	s.writeError(w, status, appErr.Message, err)
}
