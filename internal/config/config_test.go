package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT",
		"DUBBING_API_KEY",
		"DUBBING_BASE_URL",
		"DUBBING_POLL_INTERVAL",
		"DUBBING_ATTEMPT_TIMEOUT",
		"DUBBING_MAX_ATTEMPTS",
		"WORKSPACE_ROOT",
		"WORKSPACE_RETENTION",
		"MAX_PARALLEL_JOBS",
		"SEGMENT_DURATION_SEC",
		"BUS_BUFFER_SIZE",
		"BUS_TERMINAL_GRACE",
		"S3_BUCKET",
		"S3_REGION",
		"S3_KEY_PREFIX",
		"S3_ENDPOINT",
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"LOG_FORMAT",
		"LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing DUBBING_API_KEY returns error", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDubbingAPIKeyRequired)
	})

	t.Run("required variable present succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DUBBING_API_KEY", "test-api-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "test-api-key", cfg.DubbingAPIKey)
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUBBING_API_KEY", "test-api-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.DubbingPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.DubbingAttemptTimeout)
	assert.Equal(t, 3, cfg.DubbingMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.WorkspaceRetention)
	assert.Equal(t, 3, cfg.MaxParallelJobs)
	assert.Equal(t, 60, cfg.SegmentDurationSec)
	assert.Equal(t, 64, cfg.BusBufferSize)
	assert.Equal(t, 5*time.Second, cfg.BusTerminalGrace)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_PollIntervalFloor(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUBBING_API_KEY", "test-api-key")
	t.Setenv("DUBBING_POLL_INTERVAL", "200ms")

	_, err := Load()
	assert.ErrorIs(t, err, ErrPollIntervalTooSmall)
}

func TestConfig_S3Enabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.S3Enabled())

	cfg.S3Bucket = "videos"
	assert.False(t, cfg.S3Enabled())

	cfg.S3Region = "us-east-1"
	assert.True(t, cfg.S3Enabled())
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		DubbingAPIKey:      "super-secret",
		AWSSecretAccessKey: "also-secret",
	}

	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.NotContains(t, s, "also-secret")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
	}{
		{"json format", "json", "debug"},
		{"text format", "text", "info"},
		{"unknown level defaults", "text", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogFormat: tt.format, LogLevel: tt.level}
			logger := cfg.NewLogger()
			require.NotNil(t, logger)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for input, want := range map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	} {
		got := parseLogLevel(input).String()
		assert.True(t, strings.EqualFold(want, got), "level %q: want %s, got %s", input, want, got)
	}
}
