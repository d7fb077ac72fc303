package env

import (
	"bytes"
	"os"
	"testing"

	"github.com/agentuity/memo/cache"
	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/store"
	"github.com/agentuity/memo/sys"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	cmd.Flags().Set("test-flag", "flag-value")
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	cmd.Flags().Set("test-flag", "")
	t.Setenv("TEST_ENV", "env-value")
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	os.Unsetenv("TEST_ENV")
	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	assert.Equal(t, "default", FlagOrEnv(cmd, "missing-flag", "TEST_ENV", "default"))
}

func TestLogLevel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")

	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", logger.LevelDebug},
		{"warn level via flag", "warn", "", logger.LevelWarn},
		{"warn level via env", "", "WARN", logger.LevelWarn},
		{"error level via flag", "error", "", logger.LevelError},
		{"error level via env", "", "ERROR", logger.LevelError},
		{"trace level via flag", "trace", "", logger.LevelTrace},
		{"trace level via env", "", "TRACE", logger.LevelTrace},
		{"flag wins over env", "error", "debug", logger.LevelError},
		{"default level", "", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd.Flags().Set("log-level", tc.flagValue)
			t.Setenv(logger.EnvLogLevel, tc.envValue)
			assert.Equal(t, tc.expected, LogLevel(cmd))
		})
	}
}

func TestNewLogger(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "warn", "Log level")
	cmd.Flags().String("log-format", "", "Log format")

	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	log := NewLogger(cmd)
	assert.True(t, log.IsWarnEnabled())
	assert.False(t, log.IsInfoEnabled())
	log.Warn("console %d", 1)
	assert.Equal(t, "[WARN]  console 1\n", stderr.String())

	stderr.Reset()
	cmd.Flags().Set("log-format", "json")
	log = NewLogger(cmd)
	assert.False(t, log.IsDebugEnabled())
	log.Error("structured")
	assert.Contains(t, stderr.String(), `"level":"error","msg":"structured"`)
}

func TestLogFormat(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-format", "", "Log format")

	format, err := LogFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, "text", format)

	cmd.Flags().Set("log-format", "json")
	format, err = LogFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, "json", format)

	cmd.Flags().Set("log-format", "xml")
	_, err = LogFormat(cmd)
	assert.ErrorContains(t, err, `invalid log format "xml"`)
}

func TestCheckLogLevel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")
	t.Setenv(logger.EnvLogLevel, "")
	assert.NoError(t, CheckLogLevel(cmd))

	t.Setenv(logger.EnvLogLevel, "loud")
	assert.ErrorContains(t, CheckLogLevel(cmd), `invalid log level "loud"`)

	cmd.Flags().Set("log-level", "debug")
	assert.NoError(t, CheckLogLevel(cmd))
}

func TestCachePathAndBackend(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("path", "", "")
	cmd.Flags().String("backend", "", "")

	t.Setenv(cache.EnvPath, "")
	t.Setenv(cache.EnvBackend, "")
	assert.Equal(t, sys.DefaultCachePath(), CachePath(cmd))
	b, err := Backend(cmd)
	assert.NoError(t, err)
	assert.Equal(t, store.BackendBolt, b)

	t.Setenv(cache.EnvPath, "/tmp/env.db")
	t.Setenv(cache.EnvBackend, "sqlite")
	assert.Equal(t, "/tmp/env.db", CachePath(cmd))
	b, err = Backend(cmd)
	assert.NoError(t, err)
	assert.Equal(t, store.BackendSQLite, b)

	cmd.Flags().Set("path", "/tmp/flag.db")
	cmd.Flags().Set("backend", "nope")
	assert.Equal(t, "/tmp/flag.db", CachePath(cmd))
	_, err = Backend(cmd)
	assert.Error(t, err)
}
