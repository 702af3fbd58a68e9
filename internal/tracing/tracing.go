// Package tracing wraps OpenTelemetry span creation behind the engine's
// own SpanContext API, with a pluggable trace.SpanExporter rather than a
// fixed jaeger/otlp choice, since deployment targets vary (see
// DESIGN.md).
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config controls distributed tracing for one process.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	SampleRate     float64       `yaml:"sample_rate"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "flowcore"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "v1.0.0"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 1.0
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 512
	}
}

// Manager owns the process's tracer provider and exposes the tracer every
// other package instruments spans against.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager builds a Manager around exporter. A nil exporter with
// Enabled=true is an error: the caller must supply one (stdouttrace,
// otlptracehttp, jaeger, or any other trace.SpanExporter).
func NewManager(config Config, exporter trace.SpanExporter, logger *logrus.Logger) (*Manager, error) {
	config.applyDefaults()
	if !config.Enabled {
		return &Manager{config: config, logger: logger, tracer: otel.Tracer("noop")}, nil
	}
	if exporter == nil {
		return nil, fmt.Errorf("tracing: enabled but no exporter supplied")
	}

	m := &Manager{config: config, logger: logger}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: resource build failed: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(config.BatchTimeout),
			trace.WithMaxExportBatchSize(config.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.SampleRate)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m.tracer = otel.Tracer(config.ServiceName)

	logger.WithFields(logrus.Fields{
		"service_name": config.ServiceName,
		"sample_rate":  config.SampleRate,
	}).Info("distributed tracing initialized")
	return m, nil
}

// Tracer returns the process-wide tracer.
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and stops the tracer provider, a no-op when tracing is
// disabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// SpanContext bundles a context.Context with its active span and the
// tracer that created it, so callers can record attributes/errors and
// start children without re-threading the tracer through every call.
type SpanContext struct {
	ctx    context.Context
	span   oteltrace.Span
	tracer oteltrace.Tracer
}

// Start begins a new span named operation as a child of ctx's existing
// span, if any.
func Start(ctx context.Context, tracer oteltrace.Tracer, operation string) *SpanContext {
	ctx, span := tracer.Start(ctx, operation)
	return &SpanContext{ctx: ctx, span: span, tracer: tracer}
}

func (sc *SpanContext) Context() context.Context { return sc.ctx }
func (sc *SpanContext) Span() oteltrace.Span      { return sc.span }

// SetAttribute records one span attribute, dispatching on the value's Go
// type since attribute.KeyValue has no single untyped constructor.
func (sc *SpanContext) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue
	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}
	sc.span.SetAttributes(attr)
}

// SetError records err on the span and marks it as failed.
func (sc *SpanContext) SetError(err error) {
	if err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
}

// End finalizes the span. It sets no status itself: a span on which
// SetError was never called keeps the default Unset status.
func (sc *SpanContext) End() {
	sc.span.End()
}

// Child starts a new span as a child of sc.
func (sc *SpanContext) Child(operation string) *SpanContext {
	return Start(sc.ctx, sc.tracer, operation)
}

// Instrumented wraps a named operation for repeated tracing so call sites
// don't each re-derive a span name and error-tagging convention.
type Instrumented struct {
	tracer oteltrace.Tracer
	name   string
}

// NewInstrumented builds an Instrumented wrapper for name.
func NewInstrumented(tracer oteltrace.Tracer, name string) *Instrumented {
	return &Instrumented{tracer: tracer, name: name}
}

// Execute runs f inside a span, recording duration and error status.
func (in *Instrumented) Execute(ctx context.Context, f func(*SpanContext) error) error {
	sc := Start(ctx, in.tracer, in.name)
	defer sc.End()

	start := time.Now()
	err := f(sc)
	sc.SetAttribute("duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		sc.SetError(err)
		return err
	}
	sc.span.SetStatus(codes.Ok, "completed")
	return nil
}

// HTTPMiddleware extracts an upstream trace context from request headers,
// starts a span for the request, and injects the resulting context back
// into the response headers for downstream correlation.
func HTTPMiddleware(tracer oteltrace.Tracer, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, operation)
			defer span.End()

			span.SetAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
				semconv.UserAgentOriginal(r.UserAgent()),
				semconv.ClientAddress(r.RemoteAddr),
			)
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractTraceInfo pulls the active trace/span IDs out of ctx, empty
// strings if there is no active span.
func ExtractTraceInfo(ctx context.Context) (traceID, spanID string) {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		spanID = span.SpanContext().SpanID().String()
	}
	return
}
