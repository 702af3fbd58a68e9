// Package httpapi exposes the engine's operational surface: health,
// stats, and a synchronous log-ingest endpoint for load testing and
// direct API access, limited to the endpoints the harness and sink
// runtimes can actually back.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ssw-labs/flowcore/internal/harness"
	"github.com/ssw-labs/flowcore/internal/tracing"
)

// Config controls the HTTP listener.
type Config struct {
	Addr string `yaml:"addr"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8089"
	}
}

// Server is the engine's HTTP control plane: health/stats/ingest, with an
// optional tracer for request spans.
type Server struct {
	config    Config
	logger    *logrus.Logger
	harness   *harness.Harness
	tracer    oteltrace.Tracer
	version   string
	startTime time.Time
	router    *mux.Router
	http      *http.Server
}

// New builds a Server bound to h. tracer may be nil, in which case
// requests are served without a tracing middleware.
func New(config Config, h *harness.Harness, tracer oteltrace.Tracer, version string, logger *logrus.Logger) *Server {
	config.applyDefaults()
	s := &Server{
		config:    config,
		logger:    logger,
		harness:   h,
		tracer:    tracer,
		version:   version,
		startTime: time.Now(),
		router:    mux.NewRouter(),
	}
	s.registerHandlers()
	s.http = &http.Server{Addr: config.Addr, Handler: s.router}
	return s
}

func (s *Server) registerHandlers() {
	var mw func(http.Handler) http.Handler = s.metricsMiddleware
	if s.tracer != nil {
		tracingMW := tracing.HTTPMiddleware(s.tracer, "http_request")
		prev := mw
		mw = func(h http.Handler) http.Handler { return tracingMW(prev(h)) }
	}

	s.router.Handle("/health", mw(http.HandlerFunc(s.healthHandler))).Methods(http.MethodGet)
	s.router.Handle("/stats", mw(http.HandlerFunc(s.statsHandler))).Methods(http.MethodGet)
	s.router.Handle("/api/v1/ingest", mw(http.HandlerFunc(s.ingestHandler))).Methods(http.MethodPost)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"path":     r.URL.Path,
			"method":   r.Method,
			"duration": time.Since(start).String(),
		}).Debug("http request served")
	})
}

// healthHandler reports process health and basic harness counters,
// returning 503 once worker-side errors exceed matches.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.harness.Stats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := "healthy"
	if stats.RouteErr+stats.SinkErr > stats.Matched && stats.Matched > 0 {
		status = "degraded"
	}

	body := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"version":   s.version,
		"uptime":    time.Since(s.startTime).String(),
		"memory_mb": memStats.Alloc / 1024 / 1024,
		"harness":   stats,
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// statsHandler returns the harness's cumulative counters verbatim.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.harness.Stats())
}

// ingestHandler accepts a raw payload plus an X-Rule-Id header and
// submits it to the harness exactly as a source would, letting load
// tests and one-off API callers exercise the same pipeline as tailed
// files or container streams.
func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	ruleID := r.Header.Get("X-Rule-Id")
	if ruleID == "" {
		http.Error(w, "missing X-Rule-Id header", http.StatusBadRequest)
		return
	}
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.harness.Submit(ruleID, buf); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListenAndServe blocks serving HTTP until the listener fails or Shutdown
// is called.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.config.Addr).Info("http api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
