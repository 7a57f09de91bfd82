package observe

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries the request's trace id back to the client.
const TraceHeader = "X-Trace-ID"

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithTracerProvider traces requests on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) MiddlewareOption {
	return func(mw *middleware) { mw.tracer = tp.Tracer(scope) }
}

// WithQuietPaths logs requests to paths at debug level. Health checks and scrapes
// would otherwise flood the info log.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		for _, p := range paths {
			mw.quiet[p] = true
		}
	}
}

type middleware struct {
	metrics *Metrics
	tracer  trace.Tracer
	prop    propagation.TraceContext
	quiet   map[string]bool
}

// Middleware continues or starts a W3C trace for each request, runs the
// handler inside a server span, and then records the request duration and
// logs one line per request. The trace id is returned in [TraceHeader].
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{
		metrics: m,
		tracer:  otel.Tracer(scope),
		quiet:   make(map[string]bool),
	}
	for _, o := range opts {
		o(mw)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mw.serve(next, w, r)
		})
	}
}

func (mw *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := mw.tracer.Start(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
	)
	defer span.End()

	traceID := TraceID(ctx)
	if traceID != "" {
		w.Header().Set(TraceHeader, traceID)
	}
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rw, r.WithContext(ctx))

	elapsed := time.Since(start)
	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", r.URL.Path),
		attribute.Int("status", rw.status),
	))
	span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))

	level := slog.LevelInfo
	if mw.quiet[r.URL.Path] {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rw.status),
		slog.Duration("duration", elapsed),
		slog.String("trace_id", traceID),
	)
}

// responseWriter remembers the status code sent downstream.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working behind the middleware. A hijacked
// connection is reported as 101.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observe: %T cannot be hijacked", w.ResponseWriter)
	}
	conn, buf, err := hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
