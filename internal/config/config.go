// Package config provides the configuration schema, loader, and factory
// registry for the livecall voice assistant.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Store   StoreConfig   `yaml:"store"`
	Audio   AudioConfig   `yaml:"audio"`
	Persona PersonaConfig `yaml:"persona"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, sends logs to a rotated file instead of stderr.
	LogFile string `yaml:"log_file"`

	// LogRotation tunes rotation of LogFile.
	LogRotation LogRotationConfig `yaml:"log_rotation"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// LogRotationConfig controls log file rotation. Zero values select the
// rotator's defaults.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GeminiConfig selects and configures the live transport.
type GeminiConfig struct {
	// Provider names the registered transport: "websocket" speaks the raw
	// protocol, "genai" uses the Google Gen AI SDK.
	Provider string `yaml:"provider"`

	// APIKey authenticates with the API. When empty, [Load] falls back to
	// the GEMINI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Model is the native-audio live model.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// BaseURL overrides the service endpoint. Leave empty for the default.
	BaseURL string `yaml:"base_url"`

	// Fallback names a second transport tried when Provider cannot open a
	// session. Empty disables failover.
	Fallback string `yaml:"fallback"`
}

// StoreConfig selects the conversation and artifact storage backend.
type StoreConfig struct {
	// Backend is one of "memory", "postgres", "badger" or "redis".
	Backend string `yaml:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// BadgerPath is the data directory of the badger backend.
	BadgerPath string `yaml:"badger_path"`

	// RedisURL is the redis:// URL of the redis backend.
	RedisURL string `yaml:"redis_url"`

	// RedisPrefix namespaces every key of the redis backend.
	RedisPrefix string `yaml:"redis_prefix"`
}

// AudioConfig selects the local audio devices.
type AudioConfig struct {
	// Input names the registered microphone, "ffmpeg" by default.
	Input string `yaml:"input"`

	// InputDevice is passed to the input, e.g. "default" or "hw:1".
	InputDevice string `yaml:"input_device"`

	// FFmpegPath overrides the ffmpeg executable.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Output names the registered sink: "ffplay" plays through ffplay,
	// "null" renders on the clock and discards the frames.
	Output string `yaml:"output"`

	// FFplayPath overrides the ffplay executable.
	FFplayPath string `yaml:"ffplay_path"`
}

// PersonaConfig shapes the system instruction and the voice log.
type PersonaConfig struct {
	// Instructions replaces the built-in persona when set.
	Instructions string `yaml:"instructions"`

	// UserLabel and AssistantLabel name the speakers in the context and the
	// voice log.
	UserLabel      string `yaml:"user_label"`
	AssistantLabel string `yaml:"assistant_label"`

	// HistoryLimit is the number of recent text messages in the context,
	// at most 15.
	HistoryLimit int `yaml:"history_limit"`

	// VoiceLogName is the artifact the transcript is appended to.
	VoiceLogName string `yaml:"voice_log_name"`
}
