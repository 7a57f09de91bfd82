package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/livecall/internal/config"
	"github.com/MrWong99/livecall/internal/resilience"
	"github.com/MrWong99/livecall/pkg/audio"
	"github.com/MrWong99/livecall/pkg/audio/capture"
	"github.com/MrWong99/livecall/pkg/audio/ffmpeg"
	"github.com/MrWong99/livecall/pkg/provider/live"
	"github.com/MrWong99/livecall/pkg/provider/live/gemini"
	livegenai "github.com/MrWong99/livecall/pkg/provider/live/genai"
	"github.com/MrWong99/livecall/pkg/store"
	"github.com/MrWong99/livecall/pkg/store/badgerstore"
	"github.com/MrWong99/livecall/pkg/store/memstore"
	"github.com/MrWong99/livecall/pkg/store/postgres"
	"github.com/MrWong99/livecall/pkg/store/redisstore"
)

// ── Component wiring ──────────────────────────────────────────────────────────

// registerBuiltins wires every implementation that ships with livecall into
// reg, under the names the config validator accepts.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterLive("websocket", func(_ context.Context, cfg config.GeminiConfig) (live.Provider, error) {
		opts := []gemini.Option{gemini.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, opts...), nil
	})
	reg.RegisterLive("genai", func(ctx context.Context, cfg config.GeminiConfig) (live.Provider, error) {
		return livegenai.New(ctx, cfg.APIKey, livegenai.WithModel(cfg.Model))
	})

	reg.RegisterStore("memory", func(context.Context, config.StoreConfig) (store.Store, error) {
		return memstore.New(), nil
	})
	reg.RegisterStore("postgres", func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	})
	reg.RegisterStore("badger", func(_ context.Context, cfg config.StoreConfig) (store.Store, error) {
		return badgerstore.Open(cfg.BadgerPath)
	})
	reg.RegisterStore("redis", func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		var opts []redisstore.Option
		if cfg.RedisPrefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.RedisPrefix))
		}
		return redisstore.Open(ctx, cfg.RedisURL, opts...)
	})

	reg.RegisterInput("ffmpeg", func(cfg config.AudioConfig) (capture.Device, error) {
		return ffmpeg.NewMicrophone(
			ffmpeg.WithInput(cfg.InputDevice),
			ffmpeg.WithFFmpegPath(cfg.FFmpegPath),
		), nil
	})

	reg.RegisterOutput("ffplay", func(cfg config.AudioConfig) (audio.Sink, error) {
		return ffmpeg.NewSpeaker(cfg.FFplayPath, audio.PlaybackSampleRate)
	})
	reg.RegisterOutput("null", func(config.AudioConfig) (audio.Sink, error) {
		slog.Warn("audio output is disabled, model speech will not be heard")
		return nullSink{}, nil
	})
}

// buildLive creates the configured transport, behind a [resilience.Failover]
// so an unreachable endpoint trips its breaker. The fallback transport, when
// configured, shares every other setting.
func buildLive(ctx context.Context, reg *config.Registry, cfg config.GeminiConfig) (*resilience.Failover, error) {
	primary, err := reg.CreateLive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	f := resilience.NewFailover(cfg.Provider, primary)
	if cfg.Fallback == "" {
		return f, nil
	}
	fbCfg := cfg
	fbCfg.Provider = cfg.Fallback
	fallback, err := reg.CreateLive(ctx, fbCfg)
	if err != nil {
		return nil, fmt.Errorf("fallback %q: %w", cfg.Fallback, err)
	}
	f.Add(cfg.Fallback, fallback)
	slog.Info("live failover enabled", "primary", cfg.Provider, "fallback", cfg.Fallback)
	return f, nil
}

// nullSink drops every frame. Useful on hosts without a speaker.
type nullSink struct{}

func (nullSink) Play(audio.AudioFrame) {}
func (nullSink) Close() error          { return nil }
