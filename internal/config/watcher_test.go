package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/livecall/internal/config"
)

const (
	firstYAML = `
server:
  log_level: info
persona:
  instructions: First persona.
`
	secondYAML = `
server:
  log_level: debug
persona:
  instructions: Second persona.
`
	brokenYAML = `
server:
  log_level: bananas
`
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newWatched(t *testing.T, onChange func(old, new *config.Config)) (string, *config.Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livecall.yaml")
	writeConfig(t, path, firstYAML)
	w, err := config.NewWatcher(path, onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	t.Run("initial load", func(t *testing.T) {
		t.Parallel()
		_, w := newWatched(t, nil)
		if got := w.Current().Persona.Instructions; got != "First persona." {
			t.Errorf("instructions = %q", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
			t.Fatal("expected error for a missing file")
		}
	})

	t.Run("edit is reported", func(t *testing.T) {
		t.Parallel()
		var diff config.ConfigDiff
		calls := 0
		path, w := newWatched(t, func(old, new *config.Config) {
			calls++
			diff = config.Diff(old, new)
		})

		writeConfig(t, path, secondYAML)
		changed, err := w.Reload()
		if err != nil || !changed {
			t.Fatalf("Reload = %v, %v; want true, nil", changed, err)
		}
		if calls != 1 {
			t.Fatalf("onChange calls = %d, want 1", calls)
		}
		if !diff.LogLevelChanged || diff.NewLogLevel != config.LogDebug || !diff.PersonaChanged {
			t.Errorf("diff = %+v", diff)
		}
		if got := w.Current().Persona.Instructions; got != "Second persona." {
			t.Errorf("Current instructions = %q", got)
		}
	})

	t.Run("invalid edit keeps previous config", func(t *testing.T) {
		t.Parallel()
		calls := 0
		path, w := newWatched(t, func(_, _ *config.Config) { calls++ })

		writeConfig(t, path, brokenYAML)
		if changed, err := w.Reload(); err == nil || changed {
			t.Fatalf("Reload = %v, %v; want false and an error", changed, err)
		}
		if calls != 0 {
			t.Errorf("onChange calls = %d, want 0", calls)
		}
		if got := w.Current().Server.LogLevel; got != config.LogInfo {
			t.Errorf("log level = %q, want previous %q", got, config.LogInfo)
		}
	})

	t.Run("touch without edit", func(t *testing.T) {
		t.Parallel()
		calls := 0
		path, w := newWatched(t, func(_, _ *config.Config) { calls++ })

		later := time.Now().Add(time.Minute)
		if err := os.Chtimes(path, later, later); err != nil {
			t.Fatal(err)
		}
		if changed, err := w.Reload(); err != nil || changed {
			t.Fatalf("Reload = %v, %v; want false, nil", changed, err)
		}
		if calls != 0 {
			t.Errorf("onChange calls = %d, want 0", calls)
		}
	})
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "livecall.yaml")
	writeConfig(t, path, firstYAML)

	reloaded := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		select {
		case reloaded <- new:
		default:
		}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, path, secondYAML)
	select {
	case cfg := <-reloaded:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("reloaded log level = %q", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the edit")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
