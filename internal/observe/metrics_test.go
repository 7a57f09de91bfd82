package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumByAttr returns the value of the data point whose attribute key equals val.
func sumByAttr(t *testing.T, met *metricdata.Metrics, key, val string) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == val {
			return dp.Value
		}
	}
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"livecall.connect.duration", m.ConnectDuration},
		{"livecall.tool.duration", m.ToolDuration},
		{"livecall.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestAudioCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AudioChunksSent.Add(ctx, 3)
	m.AudioChunksDropped.Add(ctx, 1)
	m.PlaybackChunks.Add(ctx, 4)
	m.PlaybackInterruptions.Add(ctx, 1)
	m.PlaybackResyncs.Add(ctx, 2)

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"livecall.audio.chunks_sent", 3},
		{"livecall.audio.chunks_dropped", 1},
		{"livecall.playback.chunks", 4},
		{"livecall.playback.interruptions", 1},
		{"livecall.playback.resyncs", 2},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no sum data", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "salvar_ativo_no_stage", "ok", 0.01)
	m.RecordToolCall(ctx, "salvar_ativo_no_stage", "ok", 0.02)
	m.RecordToolCall(ctx, "salvar_ativo_no_stage", "error", 0.03)

	rm := collect(t, reader)
	calls := findMetric(rm, "livecall.tool.calls")
	if calls == nil {
		t.Fatal("livecall.tool.calls not found")
	}
	if got := sumByAttr(t, calls, "status", "ok"); got != 2 {
		t.Errorf("ok calls = %d, want 2", got)
	}
	if got := sumByAttr(t, calls, "status", "error"); got != 1 {
		t.Errorf("error calls = %d, want 1", got)
	}

	dur := findMetric(rm, "livecall.tool.duration")
	if dur == nil {
		t.Fatal("livecall.tool.duration not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 3 {
		t.Errorf("duration data points = %+v", hist.DataPoints)
	}
}

func TestRecordTransportErrorAndVoiceLog(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransportError(ctx, "connect")
	m.RecordTransportError(ctx, "session")
	m.RecordTransportError(ctx, "session")
	m.RecordVoiceLogWrite(ctx, "ok")
	m.RecordVoiceLogWrite(ctx, "error")

	rm := collect(t, reader)
	te := findMetric(rm, "livecall.transport.errors")
	if te == nil {
		t.Fatal("livecall.transport.errors not found")
	}
	if got := sumByAttr(t, te, "stage", "session"); got != 2 {
		t.Errorf("session errors = %d, want 2", got)
	}
	vl := findMetric(rm, "livecall.voicelog.writes")
	if vl == nil {
		t.Fatal("livecall.voicelog.writes not found")
	}
	if got := sumByAttr(t, vl, "status", "error"); got != 1 {
		t.Errorf("voice log errors = %d, want 1", got)
	}
}

func TestActiveCallsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive: two opens and one close leave 1.
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "livecall.active_calls")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("metric has no sum data")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active calls = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
