// Command livecall runs a live voice call against Gemini Live from the local
// microphone and speakers, and serves a small WebSocket control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/livecall/internal/artifacts"
	"github.com/MrWong99/livecall/internal/call"
	"github.com/MrWong99/livecall/internal/callctx"
	"github.com/MrWong99/livecall/internal/config"
	"github.com/MrWong99/livecall/internal/health"
	"github.com/MrWong99/livecall/internal/observe"
	"github.com/MrWong99/livecall/internal/tools"
	"github.com/MrWong99/livecall/internal/uihub"
	"github.com/MrWong99/livecall/pkg/audio/capture"
	"github.com/MrWong99/livecall/pkg/audio/playback"
)

const (
	shutdownTimeout     = 15 * time.Second
	volumeMeterInterval = 100 * time.Millisecond
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "livecall.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file with GEMINI_API_KEY")
	connect := flag.Bool("connect", false, "start a call immediately and exit when it ends")
	conversation := flag.String("conversation", "", "conversation id whose context the call uses")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "livecall: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livecall: config file %q not found, copy configs/livecall.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livecall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logOut, closeLog := logWriter(cfg.Server)
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &level})))

	slog.Info("livecall starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.Config{ServiceName: "livecall", Global: true})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Components ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	st, err := reg.CreateStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "err", err)
		return 1
	}
	defer st.Close()

	provider, err := buildLive(ctx, reg, cfg.Gemini)
	if err != nil {
		slog.Error("failed to create live provider", "provider", cfg.Gemini.Provider, "err", err)
		return 1
	}

	device, err := reg.CreateInput(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio input", "input", cfg.Audio.Input, "err", err)
		return 1
	}
	sink, err := reg.CreateOutput(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio output", "output", cfg.Audio.Output, "err", err)
		return 1
	}
	defer sink.Close()

	timeline := playback.NewTimeline(sink.Play)
	defer timeline.Close()

	var mgr *call.Manager
	ended := make(chan struct{}, 1)

	hub := uihub.New(uihub.WithCommandHandler(func(ctx context.Context, cmd uihub.Message) {
		switch cmd.Type {
		case "connect":
			if err := mgr.Connect(ctx, cmd.ConversationID); err != nil {
				slog.Warn("connect command failed", "conversation_id", cmd.ConversationID, "err", err)
			}
		case "disconnect":
			mgr.Disconnect()
		default:
			slog.Debug("ignoring client command", "type", cmd.Type)
		}
	}))
	defer hub.Close()

	sched := playback.NewScheduler(timeline, playback.WithPlayingListener(hub.PublishPlaying))
	pipeline := capture.New(device)
	bridge := tools.New(st,
		tools.WithImageSurface(hub.OpenImageSurface),
		tools.WithVoiceLogName(cfg.Persona.VoiceLogName),
		tools.WithMetrics(metrics),
	)

	opts := []call.Option{
		call.WithCredentials(cfg.Gemini.APIKey),
		call.WithVoice(cfg.Gemini.Voice),
		call.WithSpeakerLabels(cfg.Persona.UserLabel, cfg.Persona.AssistantLabel),
		call.WithHistoryLimit(cfg.Persona.HistoryLimit),
		call.WithVoiceLogName(cfg.Persona.VoiceLogName),
		call.WithMetrics(metrics),
		call.WithStateListener(func(s call.State) {
			hub.PublishState(s.String())
			if s == call.StateClosed || s == call.StateError {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		}),
	}
	if cfg.Persona.Instructions != "" {
		opts = append(opts, call.WithPersona(cfg.Persona.Instructions))
	}
	mgr = call.New(provider, st, st, pipeline, sched, bridge, opts...)
	defer mgr.Disconnect()

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PersonaChanged {
			mgr.SetPersona(personaOf(new))
			slog.Info("persona updated, applies to the next call")
		}
		if d.VoiceChanged {
			mgr.SetVoice(d.NewVoice)
			slog.Info("voice updated, applies to the next call", "voice", d.NewVoice)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart", "fields", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(
		health.StoreChecker(cfg.Store.Backend, st),
		health.CredentialsChecker(cfg.Gemini.APIKey),
		health.Checker{Name: "live", Check: provider.Ping},
	).Register(mux)
	artifacts.New(st).Register(mux)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	mux.Handle("/ws", hub)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		hub.RunVolumeMeter(gctx, volumeMeterInterval, mgr.Volume)
		return nil
	})
	g.Go(func() error { return watcher.Run(gctx) })

	callCtx, stopCall := context.WithCancel(gctx)
	defer stopCall()
	if *connect {
		if err := mgr.Connect(gctx, *conversation); err != nil {
			slog.Error("failed to start call", "conversation_id", *conversation, "err", err)
			return 1
		}
		g.Go(func() error {
			select {
			case <-ended:
				slog.Info("call ended")
				stopCall()
			case <-gctx.Done():
			}
			return nil
		})
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	g.Go(func() error {
		<-callCtx.Done()
		slog.Info("stopping")

		// ── Graceful shutdown ─────────────────────────────────────────────────
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		mgr.Disconnect()
		if err := hub.Close(); err != nil {
			slog.Warn("hub close error", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// personaOf returns the persona a config asks for, falling back to the
// built-in one when none is set.
func personaOf(cfg *config.Config) string {
	if cfg.Persona.Instructions != "" {
		return cfg.Persona.Instructions
	}
	return callctx.DefaultPersona
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        livecall, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Gemini.Provider+" / "+cfg.Gemini.Model)
	printRow("Voice", cfg.Gemini.Voice)
	printRow("Store", cfg.Store.Backend)
	printRow("Input", cfg.Audio.Input)
	printRow("Output", cfg.Audio.Output)
	if cfg.Gemini.APIKey != "" {
		printRow("API key", "configured")
	} else {
		printRow("API key", "(missing)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logWriter returns stderr, or stderr teed into a rotating file when the
// server config names one.
func logWriter(cfg config.ServerConfig) (io.Writer, func()) {
	if cfg.LogFile == "" {
		return os.Stderr, func() {}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogRotation.MaxSizeMB,
		MaxBackups: cfg.LogRotation.MaxBackups,
		MaxAge:     cfg.LogRotation.MaxAgeDays,
		Compress:   cfg.LogRotation.Compress,
	}
	return io.MultiWriter(os.Stderr, lj), func() { _ = lj.Close() }
}
