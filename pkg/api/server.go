// Package api provides HTTP API server components.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ideaforge/ideaforge/config"
	"github.com/ideaforge/ideaforge/pkg/logger"
)

// Server is the lifecycle of the HTTP API.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// HTTPServer serves the run, workflow, agent and event endpoints.
type HTTPServer struct {
	config *config.Config
	server *http.Server
	router chi.Router
	logger logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHTTPServer builds the router and the http.Server around it. Nothing
// is bound until Listen or Start.
func NewHTTPServer(cfg *config.Config, log logger.Logger, handlers *Handlers) *HTTPServer {
	router := NewRouter(cfg, log, handlers)

	httpCfg := cfg.Server.HTTP
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadTimeout:       httpCfg.ReadTimeout,
		ReadHeaderTimeout: httpCfg.ReadTimeout,
		WriteTimeout:      httpCfg.WriteTimeout,
		IdleTimeout:       httpCfg.IdleTimeout,
		MaxHeaderBytes:    httpCfg.MaxHeaderBytes,
		ErrorLog:          logger.NewStdLogger(log, "http"),
	}

	return &HTTPServer{
		config: cfg,
		server: srv,
		router: router,
		logger: log,
	}
}

// Handler returns the routed handler, for use with httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Listen binds the configured address. Calling it before Start lets the
// caller learn the bound port when the configured port is 0.
func (s *HTTPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start serves until Shutdown. It binds first if Listen was not called and
// returns nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	if err := s.Listen(); err != nil {
		s.logger.Error("HTTP server failed to bind", "addr", s.server.Addr, "error", err)
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	s.logger.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"read_timeout", s.server.ReadTimeout,
		"write_timeout", s.server.WriteTimeout,
	)

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server failed", "error", err)
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// including synchronous runs, until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown incomplete", "error", err)
		return fmt.Errorf("shutdown http server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
