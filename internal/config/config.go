// Package config provides configuration loading for cprd.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables, then validated.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rescuelabs/cprd/internal/guidance"
)

// Config holds the complete cprd configuration.
type Config struct {
	Server   ServerConfig    `koanf:"server"`
	Logging  LoggingConfig   `koanf:"logging"`
	Analysis AnalysisConfig  `koanf:"analysis"`
	Remote   RemoteConfig    `koanf:"remote"`
	Vision   VisionConfig    `koanf:"vision"`
	Guidance guidance.Config `koanf:"guidance"`
	Session  SessionConfig   `koanf:"session"`
	Summary  SummaryConfig   `koanf:"summary"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// AnalysisConfig controls the backend fallback chain.
type AnalysisConfig struct {
	// Priority lists backend names in resolution order. Known names:
	// vision_language, remote_service, local.
	Priority []string `koanf:"priority"`

	LocalTimeout  time.Duration `koanf:"local_timeout"`
	RemoteTimeout time.Duration `koanf:"remote_timeout"`
	VisionTimeout time.Duration `koanf:"vision_timeout"`
}

// RemoteConfig holds the remote pose-analysis service settings. An empty
// BaseURL disables the backend.
type RemoteConfig struct {
	BaseURL string `koanf:"base_url"`
}

// VisionConfig holds the vision-language backend and its provider settings.
// An unset APIKey disables the backend.
type VisionConfig struct {
	APIKey  Secret `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Store     string `koanf:"store"` // memory or redis
	RedisAddr string `koanf:"redis_addr"`
}

// SummaryConfig holds session summary generation settings. Summaries reuse
// the vision provider credentials.
type SummaryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if len(cfg.Analysis.Priority) == 0 {
		cfg.Analysis.Priority = []string{"vision_language", "remote_service", "local"}
	}
	if cfg.Analysis.LocalTimeout == 0 {
		cfg.Analysis.LocalTimeout = 5 * time.Second
	}
	if cfg.Analysis.RemoteTimeout == 0 {
		cfg.Analysis.RemoteTimeout = 30 * time.Second
	}
	if cfg.Analysis.VisionTimeout == 0 {
		cfg.Analysis.VisionTimeout = 30 * time.Second
	}

	if cfg.Vision.Model == "" {
		cfg.Vision.Model = "gpt-4o-mini"
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.RedisAddr == "" {
		cfg.Session.RedisAddr = "localhost:6379"
	}

	if cfg.Summary.Model == "" {
		cfg.Summary.Model = "gpt-3.5-turbo"
	}
}

// knownBackends is the set of names accepted in analysis.priority.
var knownBackends = map[string]bool{
	"vision_language": true,
	"remote_service":  true,
	"local":           true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Analysis.Priority))
	for _, name := range c.Analysis.Priority {
		if !knownBackends[name] {
			return fmt.Errorf("unknown analysis backend: %q", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate analysis backend: %q", name)
		}
		seen[name] = true
	}
	if c.Analysis.LocalTimeout <= 0 || c.Analysis.RemoteTimeout <= 0 || c.Analysis.VisionTimeout <= 0 {
		return errors.New("analysis timeouts must be positive")
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return errors.New("redis_addr required when session store is redis")
		}
	default:
		return fmt.Errorf("invalid session store: %q", c.Session.Store)
	}

	if c.Summary.Enabled && !c.Vision.APIKey.IsSet() {
		return errors.New("summary generation requires a vision api_key")
	}

	return nil
}
