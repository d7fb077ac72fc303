package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLevelFromEnv(t *testing.T) {
	originalValue := os.Getenv("MEMO_LOG_LEVEL")
	defer os.Setenv("MEMO_LOG_LEVEL", originalValue)

	tests := []struct {
		name          string
		envValue      string
		expectedLevel LogLevel
	}{
		{
			name:          "trace level",
			envValue:      "trace",
			expectedLevel: LevelTrace,
		},
		{
			name:          "debug level",
			envValue:      "debug",
			expectedLevel: LevelDebug,
		},
		{
			name:          "info level",
			envValue:      "info",
			expectedLevel: LevelInfo,
		},
		{
			name:          "warn level",
			envValue:      "warn",
			expectedLevel: LevelWarn,
		},
		{
			name:          "error level",
			envValue:      "error",
			expectedLevel: LevelError,
		},
		{
			name:          "uppercase trace",
			envValue:      "TRACE",
			expectedLevel: LevelTrace,
		},
		{
			name:          "mixed case debug",
			envValue:      "DeBuG",
			expectedLevel: LevelDebug,
		},
		{
			name:          "empty string",
			envValue:      "",
			expectedLevel: LevelInfo, // Default value
		},
		{
			name:          "invalid value",
			envValue:      "invalid",
			expectedLevel: LevelInfo, // Default value
		},
		{
			name:          "none",
			envValue:      "none",
			expectedLevel: LevelNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("MEMO_LOG_LEVEL", tt.envValue)
			
			level := GetLevelFromEnv()
			
			assert.Equal(t, tt.expectedLevel, level)
		})
	}
}

func TestLogLevelConstants(t *testing.T) {
	assert.Equal(t, LogLevel(0), LevelTrace)
	assert.Equal(t, LogLevel(1), LevelDebug)
	assert.Equal(t, LogLevel(2), LevelInfo)
	assert.Equal(t, LogLevel(3), LevelWarn)
	assert.Equal(t, LogLevel(4), LevelError)
	assert.Equal(t, LogLevel(5), LevelNone)
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("WARNING")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, level)
	assert.Equal(t, "warn", level.String())

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)
}
