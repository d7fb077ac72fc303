package env

import (
	"os"
	"slices"

	"github.com/agentuity/memo/cache"
	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/store"
	"github.com/agentuity/memo/sys"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then MEMO_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level, _ := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
	return level
}

// CheckLogLevel reports an error when --log-level or MEMO_LOG_LEVEL names no
// known level.
func CheckLogLevel(cmd *cobra.Command) error {
	name := FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info")
	if _, ok := logger.ParseLevel(name); !ok {
		return errors.Newf("invalid log level %q", name)
	}
	return nil
}

// LogFormats are the values accepted by --log-format.
var LogFormats = []string{"text", "json"}

// LogFormat returns the --log-format flag, text when unset.
func LogFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("log-format")
	if format == "" {
		return "text", nil
	}
	if !slices.Contains(LogFormats, format) {
		return "", errors.Newf("invalid log format %q: must be one of %v", format, LogFormats)
	}
	return format, nil
}

// NewLogger returns a logger at LogLevel writing to the command's error
// output. A --log-format flag of json selects structured JSON lines instead
// of the console format.
func NewLogger(cmd *cobra.Command) logger.SinkLogger {
	level := LogLevel(cmd)
	if format, _ := LogFormat(cmd); format == "json" {
		return logger.NewJSONLoggerTo(cmd.ErrOrStderr(), level)
	}
	return logger.NewConsoleLoggerTo(cmd.ErrOrStderr(), level)
}

// CachePath resolves the --path flag, then MEMO_PATH, then the platform default.
func CachePath(cmd *cobra.Command) string {
	return FlagOrEnv(cmd, "path", cache.EnvPath, sys.DefaultCachePath())
}

// Backend resolves the --backend flag, then MEMO_BACKEND, defaulting to bolt.
func Backend(cmd *cobra.Command) (store.Backend, error) {
	return store.ParseBackend(FlagOrEnv(cmd, "backend", cache.EnvBackend, string(store.BackendBolt)))
}
