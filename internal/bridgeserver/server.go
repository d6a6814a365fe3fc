// Package bridgeserver implements the remote bridge endpoint: a small
// signed HTTP service deployed next to a bulletin-board database. The
// status action is open; every other action requires a valid HMAC
// envelope. Database credentials may arrive in signed request bodies and
// are never stored.
package bridgeserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/pkg/utils"
)

// ServiceName identifies this endpoint in status responses.
const ServiceName = "keepy-bridge"

// Config holds bridge endpoint configuration
type Config struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	SecretKey     string        `json:"-"`
	AllowedOrigin string        `json:"allowed_origin"`
	Version       string        `json:"version"`
	DBDriver      string        `json:"db_driver"` // sqlite, postgres
	DBDSN         string        `json:"-"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	FetchLimitMax int           `json:"fetch_limit_max"`
}

// DefaultConfig returns bridge endpoint defaults
func DefaultConfig() *Config {
	return &Config{
		Host:          "0.0.0.0",
		Port:          8090,
		Version:       "2.0.0",
		DBDriver:      "sqlite",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  15 * time.Second,
		FetchLimitMax: 500,
	}
}

// Server is the bridge endpoint HTTP server.
type Server struct {
	config *Config
	server *http.Server
	router *mux.Router
	logger *logrus.Logger
	now    func() time.Time
}

// NewServer creates a bridge endpoint server
func NewServer(config *Config) (*Server, error) {
	if config.SecretKey == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Bridge secret key is required", "")
	}

	s := &Server{
		config: config,
		logger: utils.GetLogger(),
		now:    time.Now,
	}
	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s, nil
}

func (s *Server) setupRouter() {
	s.router = mux.NewRouter()
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)

	// Both the canonical deployment path and the root answer, so the same
	// binary serves stand-alone and behind a rewrite.
	for _, path := range []string{"/", "/keepy_bridge.php"} {
		s.router.HandleFunc(path, s.statusHandler).Methods("GET")
		s.router.HandleFunc(path, s.actionHandler).Methods("POST")
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until it fails or is stopped
func (s *Server) Start() error {
	s.logger.WithField("address", s.server.Addr).Info("Starting bridge endpoint")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.NewAppError(utils.ErrCodeInternal, "Bridge endpoint failed", err.Error())
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	s.logger.Info("Stopping bridge endpoint")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// corsMiddleware restricts browser access to the configured monitor
// origin. Server-to-server calls carry no Origin header and pass through.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if s.config.AllowedOrigin == "" || origin != s.config.AllowedOrigin {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, "+bridge.HeaderAPIKey+", "+bridge.HeaderTimestamp+", "+bridge.HeaderSignature)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests without ever touching auth headers.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"duration":  time.Since(start).String(),
			"remote_ip": r.RemoteAddr,
		}).Debug("Bridge request")
	})
}

// verifyRequest checks the HMAC envelope on an incoming request.
func (s *Server) verifyRequest(r *http.Request) bool {
	env := bridge.Envelope{
		Key:       r.Header.Get(bridge.HeaderAPIKey),
		Timestamp: r.Header.Get(bridge.HeaderTimestamp),
		Signature: r.Header.Get(bridge.HeaderSignature),
	}
	return bridge.Verify(s.config.SecretKey, env, s.now().UTC().Unix())
}
