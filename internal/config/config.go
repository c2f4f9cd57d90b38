// Package config provides the configuration structure for the indextts-handler.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Defaults applied to zero-valued settings.
const (
	DefaultModelPath               = "/app/models"
	DefaultBinaryPath              = "indextts-infer"
	DefaultDevice                  = "cuda"
	DefaultNATSURL                 = "nats://127.0.0.1:4222"
	DefaultJobSubject              = "indextts.jobs"
	DefaultFetchTimeoutSeconds     = 30
	DefaultSynthesisTimeoutSeconds = 600
	DefaultBaseLogsDir             = "logs"

	dotEnvFile = ".env"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"                         env:"NATS_URL"`
	JobSubject               string `toml:"job_subject"                 env:"JOB_SUBJECT"`
	QueueGroup               string `toml:"queue_group"                 env:"QUEUE_GROUP"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject" env:"AUDIO_CHUNK_CREATED_SUBJECT"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"   env:"AUDIO_OBJECT_STORE_BUCKET"`
}

// ModelConfig describes where the IndexTTS2 model and its inference binary live.
type ModelConfig struct {
	ModelPath  string `toml:"model_path"  env:"MODEL_PATH"`
	BinaryPath string `toml:"binary_path" env:"INDEXTTS_BINARY"`
	Device     string `toml:"device"      env:"INDEXTTS_DEVICE"`
}

// HandlerConfig tunes the request adapter.
type HandlerConfig struct {
	FetchTimeoutSeconds     int    `toml:"fetch_timeout_seconds"     env:"FETCH_TIMEOUT_SECONDS"`
	SynthesisTimeoutSeconds int    `toml:"synthesis_timeout_seconds" env:"SYNTHESIS_TIMEOUT_SECONDS"`
	TempDir                 string `toml:"temp_dir"                  env:"HANDLER_TEMP_DIR"`
	EnforceBounds           bool   `toml:"enforce_bounds"            env:"ENFORCE_PARAM_BOUNDS"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir" env:"BASE_LOGS_DIR"`
}

// Config is the root configuration structure.
type Config struct {
	NATS    NATSConfig    `toml:"nats"`
	Model   ModelConfig   `toml:"model"`
	Handler HandlerConfig `toml:"handler"`
	Paths   PathsConfig   `toml:"paths"`
}

// FetchTimeout returns the speaker audio download timeout.
func (h HandlerConfig) FetchTimeout() time.Duration {
	return time.Duration(h.FetchTimeoutSeconds) * time.Second
}

// SynthesisTimeout returns the bound on a single synthesis call.
func (h HandlerConfig) SynthesisTimeout() time.Duration {
	return time.Duration(h.SynthesisTimeoutSeconds) * time.Second
}

// Load loads the configuration for the indextts-handler. The TOML document
// comes from the central configurator; a local .env file and the process
// environment are layered on top, and unset values receive defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = ApplyEnvironment(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyEnvironment loads .env when present and overlays environment
// variables onto cfg. Variables that are unset leave cfg untouched.
func ApplyEnvironment(cfg *Config) error {
	err := godotenv.Load(dotEnvFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
	}

	err = env.Parse(cfg)
	if err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	return nil
}

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}

	if c.NATS.JobSubject == "" {
		c.NATS.JobSubject = DefaultJobSubject
	}

	if c.Model.ModelPath == "" {
		c.Model.ModelPath = DefaultModelPath
	}

	if c.Model.BinaryPath == "" {
		c.Model.BinaryPath = DefaultBinaryPath
	}

	if c.Model.Device == "" {
		c.Model.Device = DefaultDevice
	}

	if c.Handler.FetchTimeoutSeconds <= 0 {
		c.Handler.FetchTimeoutSeconds = DefaultFetchTimeoutSeconds
	}

	if c.Handler.SynthesisTimeoutSeconds <= 0 {
		c.Handler.SynthesisTimeoutSeconds = DefaultSynthesisTimeoutSeconds
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = DefaultBaseLogsDir
	}
}
