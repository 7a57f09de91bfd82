// Package observe provides application-wide observability primitives for
// livecall: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus by [Setup]. A package-level [DefaultMetrics] instance is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Call lifecycle ---

	// ActiveCalls tracks the number of open live calls.
	ActiveCalls metric.Int64UpDownCounter

	// ConnectDuration tracks the time from Connect to an open session,
	// including context assembly.
	ConnectDuration metric.Float64Histogram

	// TransportErrors counts failed connects and sessions that ended with an
	// error. Use with attribute.String("stage", "connect"|"session").
	TransportErrors metric.Int64Counter

	// --- Audio ---

	// AudioChunksSent counts capture buffers forwarded to the transport.
	AudioChunksSent metric.Int64Counter

	// AudioChunksDropped counts capture buffers discarded because the session
	// was not open or the send queue was full.
	AudioChunksDropped metric.Int64Counter

	// PlaybackChunks counts model audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackInterruptions counts barge-in interruptions.
	PlaybackInterruptions metric.Int64Counter

	// PlaybackResyncs counts cursor resyncs after an idle gap.
	PlaybackResyncs metric.Int64Counter

	// --- Tools and persistence ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency.
	ToolDuration metric.Float64Histogram

	// VoiceLogWrites counts voice log appends. Use with
	// attribute.String("status", "ok"|"error").
	VoiceLogWrites metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connects and tool calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scope)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.TransportErrors, "livecall.transport.errors", "Failed connects and sessions that ended with an error, by stage."},
		{&met.AudioChunksSent, "livecall.audio.chunks_sent", "Capture buffers forwarded to the transport."},
		{&met.AudioChunksDropped, "livecall.audio.chunks_dropped", "Capture buffers dropped while the session was not open."},
		{&met.PlaybackChunks, "livecall.playback.chunks", "Model audio chunks scheduled for playback."},
		{&met.PlaybackInterruptions, "livecall.playback.interruptions", "Playback interruptions caused by barge-in."},
		{&met.PlaybackResyncs, "livecall.playback.resyncs", "Playback cursor resyncs after idle gaps."},
		{&met.ToolCalls, "livecall.tool.calls", "Total tool invocations by tool name and status."},
		{&met.VoiceLogWrites, "livecall.voicelog.writes", "Voice log appends by status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("livecall.active_calls",
		metric.WithDescription("Number of open live calls."),
	); err != nil {
		return nil, err
	}

	if met.ConnectDuration, err = m.Float64Histogram("livecall.connect.duration",
		metric.WithDescription("Latency from connect request to open session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("livecall.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("livecall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordToolCall records one tool invocation with its outcome and latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordTransportError counts a transport failure at stage.
func (m *Metrics) RecordTransportError(ctx context.Context, stage string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordVoiceLogWrite counts one voice log append.
func (m *Metrics) RecordVoiceLogWrite(ctx context.Context, status string) {
	m.VoiceLogWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
