// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrDubbingAPIKeyRequired is returned when DUBBING_API_KEY is not set.
	ErrDubbingAPIKeyRequired = errors.New("config: DUBBING_API_KEY is required")
	// ErrPollIntervalTooSmall is returned when DUBBING_POLL_INTERVAL is below one second.
	ErrPollIntervalTooSmall = errors.New("config: DUBBING_POLL_INTERVAL must be at least 1s")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Dubbing provider settings
	DubbingAPIKey         string        `env:"DUBBING_API_KEY, required" json:"-"` // Masked in JSON
	DubbingBaseURL        string        `env:"DUBBING_BASE_URL" json:"dubbing_base_url,omitempty"`
	DubbingPollInterval   time.Duration `env:"DUBBING_POLL_INTERVAL, default=5s" json:"dubbing_poll_interval"`
	DubbingAttemptTimeout time.Duration `env:"DUBBING_ATTEMPT_TIMEOUT, default=10m" json:"dubbing_attempt_timeout"`
	DubbingMaxAttempts    int           `env:"DUBBING_MAX_ATTEMPTS, default=3" json:"dubbing_max_attempts"`

	// Workspace settings
	WorkspaceRoot      string        `env:"WORKSPACE_ROOT" json:"workspace_root,omitempty"`
	WorkspaceRetention time.Duration `env:"WORKSPACE_RETENTION, default=24h" json:"workspace_retention"`

	// Processing settings
	MaxParallelJobs    int `env:"MAX_PARALLEL_JOBS, default=3" json:"max_parallel_jobs"`
	SegmentDurationSec int `env:"SEGMENT_DURATION_SEC, default=60" json:"segment_duration_sec"`

	// Progress bus settings
	BusBufferSize    int           `env:"BUS_BUFFER_SIZE, default=64" json:"bus_buffer_size"`
	BusTerminalGrace time.Duration `env:"BUS_TERMINAL_GRACE, default=5s" json:"bus_terminal_grace"`

	// Optional S3 publishing settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX" json:"s3_key_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 publishing configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "DUBBING_API_KEY") {
			return nil, ErrDubbingAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.DubbingAPIKey == "" {
		return ErrDubbingAPIKeyRequired
	}
	if c.DubbingPollInterval < time.Second {
		return ErrPollIntervalTooSmall
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DubbingBaseURL: %s, PollInterval: %s, MaxParallelJobs: %d, SegmentDurationSec: %d, WorkspaceRoot: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DubbingBaseURL,
		c.DubbingPollInterval,
		c.MaxParallelJobs,
		c.SegmentDurationSec,
		c.WorkspaceRoot,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
