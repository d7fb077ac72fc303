package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithKV(t *testing.T) {
	log := NewTestLogger()
	WithKV(WithKV(log, "key1", "value1"), "key2", 2).Info("Multiple keys")

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{"key1": "value1", "key2": 2}, entries[0].Metadata)
}

func TestLevelEnabled(t *testing.T) {
	assert.True(t, levelEnabled(LevelInfo, LevelInfo, LevelNone, false))
	assert.False(t, levelEnabled(LevelDebug, LevelInfo, LevelTrace, false))
	assert.True(t, levelEnabled(LevelDebug, LevelInfo, LevelTrace, true))
	assert.False(t, levelEnabled(LevelNone, LevelTrace, LevelTrace, true))
}
