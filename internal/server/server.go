// Package server exposes the turn pipeline over HTTP.
//
// Routes:
//
//   - POST /v1/turn — generate a narrative turn, optionally streamed as SSE.
//   - GET /healthz, /readyz — liveness and readiness probes.
//   - GET /metrics — Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lorekeep/lorekeep/internal/health"
	"github.com/lorekeep/lorekeep/internal/observe"
	"github.com/lorekeep/lorekeep/internal/turn"
)

// Server is the HTTP front end. Create with [New], start with [Run].
type Server struct {
	turns    *turn.Service
	metrics  *observe.Metrics
	version  string
	certFile string
	keyFile  string
	httpSrv  *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics replaces the default metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the build version reported by the liveness probe.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// New creates a Server listening on addr. checkers become the /readyz probes.
func New(addr string, turns *turn.Service, checkers []health.Checker, opts ...Option) *Server {
	s := &Server{
		turns:   turns,
		metrics: observe.DefaultMetrics(),
		version: "dev",
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(s.version, checkers...).Register(mux)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(s.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" {
			err = s.httpSrv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
