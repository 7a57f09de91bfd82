package voicelog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livecall/internal/observe"
	"github.com/MrWong99/livecall/internal/voicelog"
	"github.com/MrWong99/livecall/pkg/store"
	"github.com/MrWong99/livecall/pkg/store/memstore"
)

type failingArtifacts struct {
	store.ArtifactStore
}

func (failingArtifacts) AppendArtifact(context.Context, store.Artifact, []byte) error {
	return errors.New("quota exceeded")
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 4, 9, 7, 59, 0, time.UTC)
	got := voicelog.FormatEntry(at, "User", "hello there")
	if want := "\n[09:07] User: hello there\n"; got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}
}

func TestAppend_CreatesWithHeaderThenAppends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memstore.New()
	w := voicelog.New(s, voicelog.WithLocation(time.UTC))

	at := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	if err := w.Append(ctx, "c1", "User", "first", at); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(ctx, "c1", "Assistant", "second", at.Add(time.Minute)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	a, err := s.ReadArtifact(ctx, "c1", voicelog.DefaultName)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	want := voicelog.Header + "\n[14:30] User: first\n" + "\n[14:31] Assistant: second\n"
	if string(a.Content) != want {
		t.Errorf("content = %q, want %q", a.Content, want)
	}
	if a.MIMEType != voicelog.MIMEType {
		t.Errorf("mime = %q, want %q", a.MIMEType, voicelog.MIMEType)
	}
	if a.Kind != store.KindDocument || a.Source != store.SourceGenerated {
		t.Errorf("kind/source = %q/%q", a.Kind, a.Source)
	}
}

func TestAppend_CustomNameAndLocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memstore.New()
	loc := time.FixedZone("BRT", -3*60*60)
	w := voicelog.New(s, voicelog.WithName("calls.md"), voicelog.WithLocation(loc))
	if w.Name() != "calls.md" {
		t.Fatalf("Name = %q", w.Name())
	}

	if err := w.Append(ctx, "c1", "User", "oi", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	a, err := s.ReadArtifact(ctx, "c1", "calls.md")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if want := voicelog.Header + "\n[09:00] User: oi\n"; string(a.Content) != want {
		t.Errorf("content = %q, want %q", a.Content, want)
	}
}

func TestAppend_ErrorWrappedAndCounted(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	w := voicelog.New(failingArtifacts{}, voicelog.WithMetrics(m))
	err = w.Append(context.Background(), "c1", "User", "lost", time.Now())
	if err == nil || err.Error() != `voicelog: append to "c1": quota exceeded` {
		t.Fatalf("err = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var errorCount int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "livecall.voicelog.writes" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("status"); ok && v.AsString() == "error" {
					errorCount += dp.Value
				}
			}
		}
	}
	if errorCount != 1 {
		t.Errorf("error writes = %d, want 1", errorCount)
	}
}
