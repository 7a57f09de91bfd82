package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/livecall/internal/voicelog"
	"github.com/MrWong99/livecall/pkg/provider/live/gemini"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultVoice          = "Kore"
	DefaultHistoryLimit   = 15
	DefaultUserLabel      = "User"
	DefaultAssistantLabel = "Assistant"
)

// APIKeyEnv is the environment variable consulted when gemini.api_key is
// empty.
const APIKeyEnv = "GEMINI_API_KEY"

// Valid names per selector. Used by [Validate].
var (
	ValidLiveProviders = []string{"websocket", "genai"}
	ValidStoreBackends = []string{"memory", "postgres", "badger", "redis"}
	ValidInputs        = []string{"ffmpeg"}
	ValidOutputs       = []string{"ffplay", "null"}
)

// Load reads the YAML configuration file at path, fills defaults and
// environment fallbacks, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. It does not consult the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv fills values that may come from the environment. A missing API key
// is not an error here: the call manager reports it when a call starts.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = getenv(APIKeyEnv)
	}
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	setDefault(&cfg.Gemini.Provider, "websocket")
	setDefault(&cfg.Gemini.Model, gemini.DefaultModel)
	setDefault(&cfg.Gemini.Voice, DefaultVoice)
	setDefault(&cfg.Store.Backend, "memory")
	setDefault(&cfg.Audio.Input, "ffmpeg")
	setDefault(&cfg.Audio.Output, "ffplay")
	setDefault(&cfg.Persona.UserLabel, DefaultUserLabel)
	setDefault(&cfg.Persona.AssistantLabel, DefaultAssistantLabel)
	setDefault(&cfg.Persona.VoiceLogName, voicelog.DefaultName)
	if cfg.Persona.HistoryLimit == 0 {
		cfg.Persona.HistoryLimit = DefaultHistoryLimit
	}
}

func setDefault(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Selectors
	errs = appendIfUnknown(errs, "gemini.provider", cfg.Gemini.Provider, ValidLiveProviders)
	errs = appendIfUnknown(errs, "gemini.fallback", cfg.Gemini.Fallback, ValidLiveProviders)
	if cfg.Gemini.Fallback != "" && cfg.Gemini.Fallback == cfg.Gemini.Provider {
		errs = append(errs, fmt.Errorf("gemini.fallback %q must differ from gemini.provider", cfg.Gemini.Fallback))
	}
	errs = appendIfUnknown(errs, "store.backend", cfg.Store.Backend, ValidStoreBackends)
	errs = appendIfUnknown(errs, "audio.input", cfg.Audio.Input, ValidInputs)
	errs = appendIfUnknown(errs, "audio.output", cfg.Audio.Output, ValidOutputs)

	// Store ↔ connection settings
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when backend is postgres"))
		}
	case "badger":
		if cfg.Store.BadgerPath == "" {
			errs = append(errs, errors.New("store.badger_path is required when backend is badger"))
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required when backend is redis"))
		}
	}

	// Persona
	if cfg.Persona.HistoryLimit < 0 || cfg.Persona.HistoryLimit > DefaultHistoryLimit {
		errs = append(errs, fmt.Errorf("persona.history_limit %d is out of range [1, %d]", cfg.Persona.HistoryLimit, DefaultHistoryLimit))
	}
	if cfg.Persona.UserLabel != "" && cfg.Persona.UserLabel == cfg.Persona.AssistantLabel {
		errs = append(errs, fmt.Errorf("persona.user_label and persona.assistant_label must differ, both are %q", cfg.Persona.UserLabel))
	}

	return errors.Join(errs...)
}

func appendIfUnknown(errs []error, field, value string, valid []string) []error {
	if value == "" || slices.Contains(valid, value) {
		return errs
	}
	return append(errs, fmt.Errorf("%s %q is invalid; valid values: %v", field, value, valid))
}
