// Package server exposes the anchoring, bricking and versionless endpoints of
// a domain over HTTP.
//
// Endpoints:
//
//	PUT /anchor/{domain}/create-anchor/{anchorId}/{value}     201, 409 when the anchor exists
//	PUT /anchor/{domain}/append-to-anchor/{anchorId}/{value}  200, 404 for unknown anchors
//	GET /anchor/{domain}/get-all-versions/{anchorId}          JSON array
//	GET /anchor/{domain}/get-last-version/{anchorId}          JSON string or null
//	PUT /bricking/{domain}/put-brick                          body = brick, response = hash
//	GET /bricking/{domain}/get-brick/{hash}                   raw brick
//	PUT /versionlessdsu/{path...}                             body = base64url blob
//	GET /versionlessdsu/{path...}                             base64url blob
//	GET /healthz                                              liveness probe
//
// The server stores what it is given. Chain rules (409 stale, 428 out of
// sync) are enforced by the anchoring behaviour of the writing client, which
// maps remote rejections back onto the same errors.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/versionless"
)

// Metrics observes served requests.
type Metrics interface {
	RecordRequest(route string, status int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, int, time.Duration) {}

// Config configures the endpoint server.
type Config struct {
	// Port to listen on. Default: 8080
	Port int

	// VersionlessDomain is the domain passed to the blob store for
	// /versionlessdsu requests, whose URLs carry no domain.
	// Default: "default"
	VersionlessDomain string

	// MaxBodySize bounds request bodies in bytes. Default: 32 MiB
	MaxBodySize int64

	// ShutdownTimeout bounds graceful shutdown after context cancellation.
	// Default: 5s
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.VersionlessDomain == "" {
		c.VersionlessDomain = "default"
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 32 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Backends are the stores served by the endpoints. A nil backend disables
// its endpoint family (requests answer 501).
type Backends struct {
	Anchors anchoring.Persistence
	Bricks  bricks.Store
	Blobs   versionless.Store
}

// Server serves the domain endpoints.
//
// Thread safety:
// Handlers are safe for concurrent use as long as the backends are. Stop is
// safe to call multiple times and concurrently with Start.
type Server struct {
	server       *http.Server
	config       Config
	backends     Backends
	metrics      Metrics
	shutdownOnce sync.Once
}

// New creates a stopped server. Metrics may be nil.
func New(config Config, backends Backends, metrics Metrics) *Server {
	config.applyDefaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}

	s := &Server{
		config:   config,
		backends: backends,
		metrics:  metrics,
	}

	mux := http.NewServeMux()
	s.handle(mux, "PUT /anchor/{domain}/create-anchor/{anchorId}/{value}", "create_anchor", s.createAnchor)
	s.handle(mux, "PUT /anchor/{domain}/append-to-anchor/{anchorId}/{value}", "append_anchor", s.appendAnchor)
	s.handle(mux, "GET /anchor/{domain}/get-all-versions/{anchorId}", "get_all_versions", s.getAllVersions)
	s.handle(mux, "GET /anchor/{domain}/get-last-version/{anchorId}", "get_last_version", s.getLastVersion)
	s.handle(mux, "PUT /bricking/{domain}/put-brick", "put_brick", s.putBrick)
	s.handle(mux, "GET /bricking/{domain}/get-brick/{hash}", "get_brick", s.getBrick)
	s.handle(mux, "PUT /versionlessdsu/{path...}", "put_blob", s.putBlob)
	s.handle(mux, "GET /versionlessdsu/{path...}", "get_blob", s.getBlob)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintln(w, "ok")
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start serves requests and blocks until ctx is cancelled or the listener
// fails. Cancellation triggers a graceful shutdown bounded by
// Config.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Endpoint server listening on port %d", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Endpoint server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("endpoint server failed: %w", err)
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("endpoint server shutdown error: %w", err)
			logger.Error("Endpoint server shutdown error: %v", err)
		} else {
			logger.Info("Endpoint server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

// Handler returns the HTTP handler serving the endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ============================================================================
// Plumbing
// ============================================================================

// statusWriter captures the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (s *Server) handle(mux *http.ServeMux, pattern, route string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(sw, r.Body, s.config.MaxBodySize)
		}

		fn(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		s.metrics.RecordRequest(route, sw.status, time.Since(start))
		logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

// writeError answers with the status matching err's root cause or code.
func writeError(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func notServed(w http.ResponseWriter, what string) {
	http.Error(w, what+" is not served by this endpoint", http.StatusNotImplemented)
}
