package call

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/livecall/internal/observe"
)

func TestForward_DropsUnlessOpen(t *testing.T) {
	t.Parallel()

	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m := New(nil, nil, nil, nil, nil, nil, WithMetrics(met))
	s := &session{ctx: context.Background(), sendQ: make(chan string, 1)}

	for _, st := range []State{StateConnecting, StateClosing, StateClosed, StateError} {
		m.state, m.sess = st, s
		m.forward(s, "late")
		if n := len(s.sendQ); n != 0 {
			t.Fatalf("buffer queued in state %s", st)
		}
	}

	m.state = StateOpen
	m.forward(s, "first")
	m.forward(s, "overflow")
	if n := len(s.sendQ); n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}
	if got := <-s.sendQ; got != "first" {
		t.Errorf("queued %q, want first", got)
	}

	// A stale session is never forwarded even while another call is open.
	m.forward(&session{ctx: context.Background(), sendQ: s.sendQ}, "stale")
	if n := len(s.sendQ); n != 0 {
		t.Errorf("stale buffer queued")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
		StateError:      "error",
		State(42):       "State(42)",
	}
	for s, w := range want {
		if got := s.String(); got != w {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, w)
		}
	}
}
