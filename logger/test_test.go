package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLoggerRecords(t *testing.T) {
	log := NewTestLogger()
	assert.Empty(t, log.Entries())

	log.Trace("Trace message %d", 1)
	log.Debug("Debug message %d", 2)
	log.Info("Info message %d", 3)
	log.Warn("Warn message %d", 4)
	log.Error("Error message %d", 5)

	entries := log.Entries()
	require.Len(t, entries, 5)
	for i, severity := range []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR"} {
		assert.Equal(t, severity, entries[i].Severity)
		assert.Equal(t, []interface{}{i + 1}, entries[i].Arguments)
	}
	assert.Equal(t, []string{"Warn message %d"}, log.Messages("WARNING"))
}

func TestTestLoggerDerivedLoggersShareEntries(t *testing.T) {
	log := NewTestLogger()
	child := NewTestLogger()

	log.With(map[string]interface{}{"key": "value"}).Info("with")
	log.WithPrefix("[memo]").WithContext(context.Background()).Info("prefixed")
	log.Stack(child).Info("stacked")

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]interface{}{"key": "value"}, entries[0].Metadata)
	assert.Nil(t, entries[1].Metadata)
	assert.Equal(t, []string{"stacked"}, child.Messages("INFO"))
}

func TestTestLoggerWithMergesMetadata(t *testing.T) {
	log := NewTestLogger().
		With(map[string]interface{}{"key1": "value1", "key2": 42}).
		With(map[string]interface{}{"key2": 43, "key3": true})
	log.Debug("merged")

	entries := log.(*TestLogger).Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{"key1": "value1", "key2": 43, "key3": true}, entries[0].Metadata)
}

func TestTestLoggerConcurrent(t *testing.T) {
	log := NewTestLogger()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := log.With(map[string]interface{}{"worker": i})
			for range 100 {
				l.Debug("tick")
			}
		}()
	}
	wg.Wait()
	assert.Len(t, log.Entries(), 800)
}

func TestTestLoggerLevels(t *testing.T) {
	log := NewTestLogger()
	assert.True(t, log.IsTraceEnabled())
	assert.True(t, log.IsErrorEnabled())
	assert.True(t, log.IsLevelEnabled(LevelError))
	assert.False(t, log.IsLevelEnabled(LevelNone))
}
