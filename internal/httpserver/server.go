// Package httpserver exposes the demo session API to browser clients.
package httpserver

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/config"
	"github.com/al-bashkir/demo-sessiond/internal/tabs"
)

// Server is the HTTP server for the demo session API and health checks
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	tabs       *tabs.Manager
	limiter    *IPRateLimiter
	version    string
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, tabMgr *tabs.Manager, version string) (*Server, error) {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		tabs:    tabMgr,
		limiter: NewIPRateLimiter(10, 50),
		version: version,
	}

	// Register routes
	s.mux.HandleFunc("POST /api/demo/start", s.handleStart)
	s.mux.HandleFunc("POST /api/demo/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/demo/touch", s.handleTouch)
	s.mux.HandleFunc("POST /api/demo/exit", s.handleExit)
	s.mux.HandleFunc("POST /api/demo/events", s.handleEvent)
	s.mux.HandleFunc("POST /api/demo/unload", s.handleUnload)
	s.mux.HandleFunc("GET /api/demo/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/demo/events", s.handleEventLog)
	s.mux.HandleFunc("GET /api/demo/stats", s.handleStats)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Wrap with middleware
	handler := loggingMiddleware(s.mux)
	handler = recoveryMiddleware(handler)
	handler = rateLimitMiddleware(s.limiter, handler)
	handler = securityHeadersMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Listen.HTTP,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Start and refresh wait for remote validation
		WriteTimeout: cfg.Remote.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	return s, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and the IP limiter eviction loop. It blocks
// until the server stops.
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
	)

	go s.limiter.evictLoop()

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
