package logger

import (
	"context"
	"maps"
	"os"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

type testRecord struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived from it with
// With, WithPrefix or Stack record into the same log. It is safe for
// concurrent use.
type TestLogger struct {
	record   *testRecord
	metadata map[string]interface{}
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := maps.Clone(c.metadata)
	if kv == nil {
		kv = make(map[string]interface{}, len(metadata))
	}
	maps.Copy(kv, metadata)
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{record: c.record, metadata: kv, child: child}
}

func (c *TestLogger) Log(severity string, msg string, args ...interface{}) {
	c.record.mu.Lock()
	defer c.record.mu.Unlock()
	c.record.entries = append(c.record.entries, TestLogEntry{severity, msg, args, c.metadata})
}

// Entries returns a copy of the recorded entries.
func (c *TestLogger) Entries() []TestLogEntry {
	c.record.mu.Lock()
	defer c.record.mu.Unlock()
	return append([]TestLogEntry(nil), c.record.entries...)
}

// Messages returns the unformatted messages recorded with severity.
func (c *TestLogger) Messages(severity string) []string {
	var out []string
	for _, e := range c.Entries() {
		if e.Severity == severity {
			out = append(out, e.Message)
		}
	}
	return out
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.Log("TRACE", msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.Log("DEBUG", msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.Log("INFO", msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.Log("WARNING", msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.Log("ERROR", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.Log("FATAL", msg, args...)
	if c.child != nil {
		c.child.Fatal(msg, args...)
	}
	os.Exit(1)
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{record: c.record, metadata: c.metadata, child: next}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool { return level < LevelNone }
func (c *TestLogger) IsTraceEnabled() bool               { return true }
func (c *TestLogger) IsDebugEnabled() bool               { return true }
func (c *TestLogger) IsInfoEnabled() bool                { return true }
func (c *TestLogger) IsWarnEnabled() bool                { return true }
func (c *TestLogger) IsErrorEnabled() bool               { return true }

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{record: &testRecord{}}
}
