// Package config resolves daemon settings.
// Priority: defaults < config file < env vars < flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/backend"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/capture"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/daemon"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/db"
)

// Environment overrides.
const (
	EnvBackendURL = "SUMMARISER_BACKEND_URL"
	EnvSocket     = "SUMMARISER_SOCKET"
	EnvDB         = "SUMMARISER_DB"
	EnvLogLevel   = "SUMMARISER_LOG_LEVEL"
)

// Config holds all resolved configuration values.
type Config struct {
	BackendURL      string        `yaml:"backend_url"`
	ChunkInterval   time.Duration `yaml:"chunk_interval"`
	Upload          Upload        `yaml:"upload"`
	SocketPath      string        `yaml:"socket_path"`
	DBPath          string        `yaml:"db_path"`
	LogLevel        string        `yaml:"log_level"`
	RecorderTimeout time.Duration `yaml:"recorder_timeout"`
	RecoverOnStart  bool          `yaml:"recover_on_start"`
}

// Upload tunes the backend client.
type Upload struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FlagOverrides holds values explicitly set on the command line. Nil means
// the flag was not set.
type FlagOverrides struct {
	SocketPath *string
	LogLevel   *string
}

// fileConfig uses pointers to distinguish "not set" from zero values.
type fileConfig struct {
	BackendURL      *string        `yaml:"backend_url"`
	ChunkInterval   *time.Duration `yaml:"chunk_interval"`
	Upload          *fileUpload    `yaml:"upload"`
	SocketPath      *string        `yaml:"socket_path"`
	DBPath          *string        `yaml:"db_path"`
	LogLevel        *string        `yaml:"log_level"`
	RecorderTimeout *time.Duration `yaml:"recorder_timeout"`
	RecoverOnStart  *bool          `yaml:"recover_on_start"`
}

type fileUpload struct {
	MaxAttempts *int           `yaml:"max_attempts"`
	BaseDelay   *time.Duration `yaml:"base_delay"`
	Timeout     *time.Duration `yaml:"timeout"`
}

// Defaults returns the base configuration.
func Defaults() Config {
	return Config{
		BackendURL:    backend.DefaultBaseURL,
		ChunkInterval: capture.DefaultChunkInterval,
		Upload: Upload{
			MaxAttempts: backend.DefaultMaxAttempts,
			BaseDelay:   backend.DefaultBaseDelay,
			Timeout:     backend.DefaultTimeout,
		},
		SocketPath:      daemon.SocketPath(),
		DBPath:          db.DefaultDBPath(),
		LogLevel:        "info",
		RecorderTimeout: daemon.DefaultRecorderTimeout,
		RecoverOnStart:  true,
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "summariser", "config.yaml")
}

// Load applies the priority cascade. A missing file is not an error.
func Load(path string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultPath()
	}
	if err := loadFile(&cfg, path); err != nil {
		return cfg, err
	}

	loadEnvVars(&cfg)

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.BackendURL != nil {
		cfg.BackendURL = *fc.BackendURL
	}
	if fc.ChunkInterval != nil {
		cfg.ChunkInterval = *fc.ChunkInterval
	}
	if u := fc.Upload; u != nil {
		if u.MaxAttempts != nil {
			cfg.Upload.MaxAttempts = *u.MaxAttempts
		}
		if u.BaseDelay != nil {
			cfg.Upload.BaseDelay = *u.BaseDelay
		}
		if u.Timeout != nil {
			cfg.Upload.Timeout = *u.Timeout
		}
	}
	if fc.SocketPath != nil {
		cfg.SocketPath = expandHome(*fc.SocketPath)
	}
	if fc.DBPath != nil {
		cfg.DBPath = expandHome(*fc.DBPath)
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.RecorderTimeout != nil {
		cfg.RecorderTimeout = *fc.RecorderTimeout
	}
	if fc.RecoverOnStart != nil {
		cfg.RecoverOnStart = *fc.RecoverOnStart
	}
	return nil
}

func loadEnvVars(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.BackendURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSocket)); v != "" {
		cfg.SocketPath = expandHome(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDB)); v != "" {
		cfg.DBPath = expandHome(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
}

func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.SocketPath != nil {
		cfg.SocketPath = expandHome(*flags.SocketPath)
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
}

// Validate checks that values are within acceptable ranges.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if c.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1, got %d", c.Upload.MaxAttempts)
	}
	if c.Upload.BaseDelay < 0 || c.Upload.Timeout < 0 || c.RecorderTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.ChunkInterval < capture.MinChunkInterval {
		return fmt.Errorf("chunk_interval must be at least %s, got %s", capture.MinChunkInterval, c.ChunkInterval)
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("log_level %q is not a known level", c.LogLevel)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
