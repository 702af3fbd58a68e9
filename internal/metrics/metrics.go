// Package metrics exposes the engine's Prometheus surface: counters and
// histograms for the components that actually exist here (harness,
// dispatch, sink runtime, lookup store, resource monitor), registered
// through a safeRegister helper that tolerates duplicate registration in
// tests.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	EventsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_events_submitted_total",
		Help: "Total number of events submitted to the harness",
	})

	EventsMatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_events_matched_total",
		Help: "Total number of events that matched a compiled PDL rule",
	})

	ParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_parse_errors_total",
		Help: "Total number of events that failed PDL matching",
	})

	RouteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_route_errors_total",
		Help: "Total number of events that failed dispatch routing or MDL transform",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowcore_harness_queue_depth",
		Help: "Current number of events buffered in the harness submission queue",
	})

	SinkSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_sink_sent_total",
			Help: "Total number of records successfully delivered per sink",
		},
		[]string{"sink"},
	)

	SinkRescuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_sink_rescued_total",
			Help: "Total number of records written to rescue files per sink",
		},
		[]string{"sink"},
	)

	SinkSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcore_sink_send_duration_seconds",
			Help:    "Time spent delivering one batch through a sink transport",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	LookupHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_lookup_hits_total",
		Help: "Total number of lookup store Get calls that found a value",
	})

	LookupMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_lookup_misses_total",
		Help: "Total number of lookup store Get calls that found nothing",
	})

	LookupErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowcore_lookup_errors_total",
		Help: "Total number of lookup store calls that returned an error",
	})

	ResourceGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowcore_resource_goroutines",
		Help: "Last sampled goroutine count",
	})

	ResourceMemoryRSSMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowcore_resource_memory_rss_mb",
		Help: "Last sampled process RSS in megabytes",
	})

	ResourceCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowcore_resource_cpu_percent",
		Help: "Last sampled process CPU usage percent",
	})

	HTTPResponseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcore_http_response_duration_seconds",
			Help:    "HTTP API response time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

var registerOnce sync.Once

func safeRegister(c prometheus.Collector) {
	defer func() {
		_ = recover() // duplicate registration in repeated test setups is not fatal
	}()
	prometheus.MustRegister(c)
}

// Server exposes the Prometheus registry and a liveness endpoint over
// HTTP, pairing a promhttp.Handler with a plain /health check.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer registers every collector exactly once and builds a Server
// bound to addr.
func NewServer(addr string, logger *logrus.Logger) *Server {
	registerOnce.Do(func() {
		safeRegister(EventsSubmittedTotal)
		safeRegister(EventsMatchedTotal)
		safeRegister(ParseErrorsTotal)
		safeRegister(RouteErrorsTotal)
		safeRegister(SinkSentTotal)
		safeRegister(SinkRescuedTotal)
		safeRegister(SinkSendDuration)
		safeRegister(LookupHitsTotal)
		safeRegister(LookupMissesTotal)
		safeRegister(LookupErrorsTotal)
		safeRegister(HTTPResponseDuration)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start launches the metrics HTTP listener in the background.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Stop closes the metrics HTTP listener.
func (s *Server) Stop() error {
	return s.server.Close()
}

// RecordSinkSend records the outcome of one sink delivery attempt.
func RecordSinkSend(sink string, sent, rescued int64, duration time.Duration) {
	if sent > 0 {
		SinkSentTotal.WithLabelValues(sink).Add(float64(sent))
	}
	if rescued > 0 {
		SinkRescuedTotal.WithLabelValues(sink).Add(float64(rescued))
	}
	SinkSendDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// RecordLookup records a lookup store Get outcome.
func RecordLookup(hit bool, err error) {
	switch {
	case err != nil:
		LookupErrorsTotal.Inc()
	case hit:
		LookupHitsTotal.Inc()
	default:
		LookupMissesTotal.Inc()
	}
}
