package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// JSONLogEntry is one line of structured log output.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type jsonLogger struct {
	metadata     map[string]interface{}
	component    string
	traceID      string
	spanID       string
	out          io.Writer
	sink         Sink
	sinkLogLevel LogLevel
	noConsole    bool
	now          func() time.Time
	logLevel     LogLevel
	child        Logger
}

var _ SinkLogger = (*jsonLogger)(nil)

// WithContext returns a logger stamping entries with the trace and span of
// the span active in ctx.
func (c *jsonLogger) WithContext(ctx context.Context) Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() && c.child == nil {
		return c
	}
	clone := c.clone()
	if sc.IsValid() {
		clone.traceID = sc.TraceID().String()
		clone.spanID = sc.SpanID().String()
	}
	if clone.child != nil {
		clone.child = clone.child.WithContext(ctx)
	}
	return clone
}

func (c *jsonLogger) SetSink(sink Sink, level LogLevel) {
	c.sink = sink
	c.sinkLogLevel = level
	if c.child != nil {
		if child, ok := c.child.(SinkLogger); ok {
			child.SetSink(sink, level)
		}
	}
}

func (c *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	clone := *c
	clone.metadata = metadata
	return &clone
}

// WithPrefix adds prefix, without surrounding brackets, to the component.
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	name := strings.Trim(prefix, "[]")
	switch {
	case clone.component == "":
		clone.component = name
	case !strings.Contains(clone.component, name):
		clone.component += " " + name
	}
	if clone.child != nil {
		clone.child = clone.child.WithPrefix(prefix)
	}
	return clone
}

func (c *jsonLogger) With(newFields map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range newFields {
		clone.metadata[k] = v
	}
	if c.child != nil {
		clone.child = c.child.With(newFields)
	}
	return clone
}

func (c *jsonLogger) entry(level LogLevel, msg string, args ...interface{}) JSONLogEntry {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	var metadata map[string]interface{}
	if len(c.metadata) > 0 {
		metadata = c.metadata
	}
	return JSONLogEntry{
		Timestamp: c.now().UTC(),
		Level:     level.String(),
		Message:   ansiColorStripper.ReplaceAllString(msg, ""),
		Component: c.component,
		TraceID:   c.traceID,
		SpanID:    c.spanID,
		Metadata:  metadata,
	}
}

func (c *jsonLogger) Log(level LogLevel, msg string, args ...interface{}) {
	console, sink := c.outputs(level)
	if !console && !sink {
		return
	}
	buf, err := json.Marshal(c.entry(level, msg, args...))
	if err != nil {
		return
	}
	buf = append(buf, '\n')
	if console {
		c.out.Write(buf)
	}
	if sink {
		c.sink.Write(buf)
	}
}

// outputs reports which outputs accept level. The logger's own level is a
// floor for the sink too unless console output is suppressed.
func (c *jsonLogger) outputs(level LogLevel) (console bool, sink bool) {
	if level >= LevelNone || (!c.noConsole && level < c.logLevel) {
		return false, false
	}
	return !c.noConsole, c.sink != nil && level >= c.sinkLogLevel
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.Log(LevelTrace, msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.Log(LevelDebug, msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.Log(LevelInfo, msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.Log(LevelWarn, msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.Log(LevelError, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *jsonLogger) Fatal(msg string, args ...interface{}) {
	c.Log(LevelError, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
	os.Exit(1)
}

func (c *jsonLogger) Stack(next Logger) Logger {
	clone := c.clone()
	clone.child = next
	return clone
}

// NewJSONLogger returns a Logger writing one JSON object per line to stderr.
// The level defaults to $MEMO_LOG_LEVEL.
func NewJSONLogger(levels ...LogLevel) SinkLogger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return NewJSONLoggerTo(os.Stderr, level)
}

// NewJSONLoggerTo returns a JSON Logger writing to w.
func NewJSONLoggerTo(w io.Writer, level LogLevel) SinkLogger {
	return &jsonLogger{out: w, logLevel: level, sinkLogLevel: LevelNone, now: time.Now}
}

// NewJSONLoggerWithSink returns a JSON Logger writing only to sink.
func NewJSONLoggerWithSink(sink Sink, level LogLevel) SinkLogger {
	return &jsonLogger{noConsole: true, sink: sink, sinkLogLevel: level, now: time.Now}
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	if console, sink := c.outputs(level); console || sink {
		return true
	}
	return c.child != nil && c.child.IsLevelEnabled(level)
}

func (c *jsonLogger) IsTraceEnabled() bool { return c.IsLevelEnabled(LevelTrace) }
func (c *jsonLogger) IsDebugEnabled() bool { return c.IsLevelEnabled(LevelDebug) }
func (c *jsonLogger) IsInfoEnabled() bool  { return c.IsLevelEnabled(LevelInfo) }
func (c *jsonLogger) IsWarnEnabled() bool  { return c.IsLevelEnabled(LevelWarn) }
func (c *jsonLogger) IsErrorEnabled() bool { return c.IsLevelEnabled(LevelError) }
