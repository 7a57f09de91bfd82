package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/livecall/internal/resilience"
	"github.com/MrWong99/livecall/pkg/provider/live"
	livemock "github.com/MrWong99/livecall/pkg/provider/live/mock"
)

var errRefused = errors.New("connection refused")

func TestFailover_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	primary := &livemock.Provider{Session: livemock.NewSession()}
	backup := &livemock.Provider{Session: livemock.NewSession()}
	f := resilience.NewFailover("websocket", primary)
	f.Add("genai", backup)

	sess, err := f.Connect(context.Background(), live.SessionConfig{Voice: "Kore"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess != primary.Session {
		t.Error("session not from primary")
	}
	if n := len(backup.Calls()); n != 0 {
		t.Errorf("backup connects = %d, want 0", n)
	}
}

func TestFailover_FallsBack(t *testing.T) {
	t.Parallel()

	primary := &livemock.Provider{ConnectErr: errRefused}
	backup := &livemock.Provider{Session: livemock.NewSession()}
	f := resilience.NewFailover("websocket", primary, resilience.WithThreshold(1))
	f.Add("genai", backup)

	cfg := live.SessionConfig{Instructions: "be brief", Voice: "Puck"}
	sess, err := f.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess != backup.Session {
		t.Error("session not from backup")
	}
	if got := backup.Calls(); len(got) != 1 || got[0].Voice != "Puck" || got[0].Instructions != "be brief" {
		t.Errorf("backup config = %+v", got)
	}

	// The primary's breaker is open now, so it is skipped without a dial.
	if _, err := f.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary connects = %d, want 1", n)
	}
	if got := f.States()["websocket"]; got != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", got)
	}
}

func TestFailover_AllFailed(t *testing.T) {
	t.Parallel()

	f := resilience.NewFailover("websocket", &livemock.Provider{ConnectErr: errRefused}, resilience.WithThreshold(1))
	f.Add("genai", &livemock.Provider{ConnectErr: errRefused})

	_, err := f.Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errRefused) {
		t.Errorf("err = %v, want it to wrap the transport error", err)
	}
	if err := f.Ping(context.Background()); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("Ping = %v, want ErrOpen", err)
	}
}

func TestFailover_CanceledContextStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &livemock.Provider{ConnectErr: context.Canceled}
	backup := &livemock.Provider{Session: livemock.NewSession()}
	f := resilience.NewFailover("websocket", primary, resilience.WithThreshold(1))
	f.Add("genai", backup)

	if _, err := f.Connect(ctx, live.SessionConfig{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n := len(backup.Calls()); n != 0 {
		t.Errorf("backup connects = %d, want 0", n)
	}
	if got := f.States()["websocket"]; got != resilience.StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
	if err := f.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v, want nil", err)
	}
}
