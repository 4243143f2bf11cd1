package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// Supported transcription providers
const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Logging       logger.Config       `toml:"logging"`
	FFmpeg        FFmpegConfig        `toml:"ffmpeg"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Storage       StorageConfig       `toml:"storage"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Listen                 string   `toml:"listen"`
	MaxConnections         int      `toml:"max_connections"`
	MaxUploadMB            int      `toml:"max_upload_mb"`
	ReadTimeoutSeconds     int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"`
	SessionCookieName      string   `toml:"session_cookie_name"`
	SessionTTLMinutes      int      `toml:"session_ttl_minutes"`
	SessionSweepSeconds    int      `toml:"session_sweep_seconds"`
	SecureCookies          bool     `toml:"secure_cookies"`
}

// FFmpegConfig represents the external audio converter configuration
type FFmpegConfig struct {
	Path           string `toml:"path"`
	SampleRate     int    `toml:"sample_rate"`
	Channels       int    `toml:"channels"`
	TempDir        string `toml:"temp_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Option is a labelled choice offered in the upload form
type Option struct {
	Label string `toml:"label" json:"label"`
	Value string `toml:"value" json:"value"`
}

// TranscriptionConfig represents the speech-recognition configuration
type TranscriptionConfig struct {
	Provider        string       `toml:"provider"`
	TimeoutSeconds  int          `toml:"timeout_seconds"`
	DefaultModel    string       `toml:"default_model"`
	DefaultLanguage string       `toml:"default_language"`
	Models          []Option     `toml:"models"`
	Languages       []Option     `toml:"languages"`
	OpenAI          OpenAIConfig `toml:"openai"`
	Google          GoogleConfig `toml:"google"`
}

// OpenAIConfig holds OpenAI audio transcription settings
type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// GoogleConfig holds Google Cloud Speech-to-Text settings
type GoogleConfig struct {
	APIKey   string `toml:"api_key"`
	Endpoint string `toml:"endpoint"`
}

// StorageConfig represents the record store configuration
type StorageConfig struct {
	DSN string `toml:"dsn"`
}

// Default returns the built-in configuration. Models are filled in after
// merging because they depend on the chosen provider.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:                 ":8080",
			MaxConnections:         64,
			MaxUploadMB:            25,
			ReadTimeoutSeconds:     60,
			WriteTimeoutSeconds:    300,
			ShutdownTimeoutSeconds: 10,
			SessionCookieName:      "vmt_session",
			SessionTTLMinutes:      120,
			SessionSweepSeconds:    60,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "console",
		},
		FFmpeg: FFmpegConfig{
			Path:           "ffmpeg",
			SampleRate:     16000,
			Channels:       1,
			TimeoutSeconds: 120,
		},
		Transcription: TranscriptionConfig{
			Provider:        ProviderOpenAI,
			TimeoutSeconds:  120,
			DefaultLanguage: "en",
			Languages: []Option{
				{Label: "English", Value: "en"},
				{Label: "Spanish", Value: "es"},
				{Label: "French", Value: "fr"},
			},
			Google: GoogleConfig{
				Endpoint: "https://speech.googleapis.com/v1/speech:recognize",
			},
		},
		Storage: StorageConfig{
			DSN: "file:voicemail?mode=memory&cache=shared",
		},
	}
}

// DefaultModels returns the model choices offered for a provider
func DefaultModels(provider string) []Option {
	switch provider {
	case ProviderGoogle:
		return []Option{
			{Label: "Phone call", Value: "phone_call"},
			{Label: "Default", Value: "default"},
			{Label: "Latest long", Value: "latest_long"},
		}
	default:
		return []Option{
			{Label: "Whisper", Value: "whisper-1"},
			{Label: "GPT-4o mini transcribe", Value: "gpt-4o-mini-transcribe"},
			{Label: "GPT-4o transcribe", Value: "gpt-4o-transcribe"},
		}
	}
}

// Load reads the configuration from a TOML file. A missing file yields the
// defaults. API keys absent from the file are taken from the environment,
// after loading envFiles (typically ".env") when they exist.
func Load(path string, envFiles ...string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if len(cfg.Transcription.Models) == 0 {
		cfg.Transcription.Models = DefaultModels(cfg.Transcription.Provider)
	}
	if cfg.Transcription.DefaultModel == "" {
		cfg.Transcription.DefaultModel = cfg.Transcription.Models[0].Value
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if cfg.Transcription.OpenAI.APIKey == "" {
		cfg.Transcription.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Transcription.Google.APIKey == "" {
		cfg.Transcription.Google.APIKey = os.Getenv("GOOGLE_API_KEY")
	}

	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	// godotenv never overrides variables already set in the process
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the application cannot run with
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Server.Listen) == "" {
		problems = append(problems, "server.listen must not be empty")
	}
	if c.Server.MaxUploadMB <= 0 {
		problems = append(problems, "server.max_upload_mb must be positive")
	}
	if c.Server.MaxConnections < 0 {
		problems = append(problems, "server.max_connections must not be negative")
	}
	if c.Server.SessionTTLMinutes <= 0 {
		problems = append(problems, "server.session_ttl_minutes must be positive")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, "logging.level: "+err.Error())
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}
	if c.FFmpeg.SampleRate <= 0 || c.FFmpeg.Channels <= 0 {
		problems = append(problems, "ffmpeg.sample_rate and ffmpeg.channels must be positive")
	}

	t := c.Transcription
	if t.Provider != ProviderOpenAI && t.Provider != ProviderGoogle {
		problems = append(problems, fmt.Sprintf("transcription.provider %q must be %s or %s", t.Provider, ProviderOpenAI, ProviderGoogle))
	}
	if !hasOption(t.Models, t.DefaultModel) {
		problems = append(problems, fmt.Sprintf("transcription.default_model %q is not in transcription.models", t.DefaultModel))
	}
	if !hasOption(t.Languages, t.DefaultLanguage) {
		problems = append(problems, fmt.Sprintf("transcription.default_language %q is not in transcription.languages", t.DefaultLanguage))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func hasOption(opts []Option, value string) bool {
	for _, o := range opts {
		if o.Value == value {
			return true
		}
	}
	return false
}

// ReadTimeout returns the HTTP read timeout
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// SessionTTL returns how long an idle session is kept
func (s ServerConfig) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLMinutes) * time.Minute
}

// SessionSweepInterval returns how often expired sessions are collected
func (s ServerConfig) SessionSweepInterval() time.Duration {
	return time.Duration(s.SessionSweepSeconds) * time.Second
}

// MaxUploadBytes returns the upload limit in bytes
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// Timeout returns the converter timeout
func (f FFmpegConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Timeout returns the speech API request timeout
func (t TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}
