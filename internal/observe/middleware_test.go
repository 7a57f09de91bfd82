package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMiddleware wires Middleware to a manual metric reader and an
// in-memory span exporter without touching the global providers.
func newTestMiddleware(t *testing.T, h http.HandlerFunc) (http.Handler, *tracetest.InMemoryExporter, func() metricdata.ResourceMetrics) {
	t.Helper()
	m, reader := newTestMetrics(t)
	tp, exp := newTestTracerProvider(t)
	return Middleware(m, WithTracerProvider(tp))(h), exp, func() metricdata.ResourceMetrics { return collect(t, reader) }
}

func TestMiddleware_TraceHeader(t *testing.T) {
	t.Parallel()

	var inHandler string
	h, _, _ := newTestMiddleware(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = TraceID(r.Context())
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if len(inHandler) != 32 {
		t.Fatalf("trace id in handler = %q, want 32 hex chars", inHandler)
	}
	if got := rec.Header().Get(TraceHeader); got != inHandler {
		t.Errorf("%s = %q, want %q", TraceHeader, got, inHandler)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	t.Parallel()

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inHandler string
	h, _, _ := newTestMiddleware(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = TraceID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inHandler != traceID {
		t.Errorf("trace id = %q, want %q", inHandler, traceID)
	}
	if got := rec.Header().Get(TraceHeader); got != traceID {
		t.Errorf("%s = %q, want %q", TraceHeader, got, traceID)
	}
}

func TestMiddleware_SpanAndDuration(t *testing.T) {
	t.Parallel()

	h, exp, snapshot := newTestMiddleware(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /readyz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /readyz")
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d, want 503", status)
	}

	met := findMetric(snapshot(), "livecall.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v, want one sample", hist.DataPoints)
	}
	attrs := hist.DataPoints[0].Attributes
	for key, want := range map[string]attribute.Value{
		"method": attribute.StringValue("GET"),
		"path":   attribute.StringValue("/readyz"),
		"status": attribute.IntValue(503),
	} {
		if got, ok := attrs.Value(attribute.Key(key)); !ok || got != want {
			t.Errorf("attribute %s = %v, want %v", key, got.Emit(), want.Emit())
		}
	}
}

func TestMiddleware_HijackForUpgrades(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	tp, _ := newTestTracerProvider(t)
	hijacked := make(chan error, 1)
	srv := httptest.NewServer(Middleware(m, WithTracerProvider(tp), WithQuietPaths("/ws"))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			conn, _, err := http.NewResponseController(w).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			hijacked <- err
		})))
	defer srv.Close()

	if resp, err := http.Get(srv.URL + "/ws"); err == nil {
		resp.Body.Close()
	}
	if err := <-hijacked; err != nil {
		t.Fatalf("hijack through middleware: %v", err)
	}
}
