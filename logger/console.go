package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type levelStyle struct {
	name    string
	label   lipgloss.Style
	message lipgloss.Style
}

// palette holds the styles of one output. Color support is detected on the
// output the logger writes to, so redirected logs carry no escape codes.
type palette struct {
	levels   [LevelNone]levelStyle
	prefix   lipgloss.Style
	metadata lipgloss.Style
}

func newPalette(w io.Writer) *palette {
	r := lipgloss.NewRenderer(w)
	style := func(color string, bold bool) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(color)).Bold(bold)
	}
	return &palette{
		levels: [LevelNone]levelStyle{
			LevelTrace: {"TRACE", style("6", true), style("8", false)},
			LevelDebug: {"DEBUG", style("4", true), style("2", false)},
			LevelInfo:  {"INFO", style("3", true), style("7", true)},
			LevelWarn:  {"WARN", style("5", true), style("5", false)},
			LevelError: {"ERROR", style("1", true), style("1", false)},
		},
		prefix:   style("200", false),
		metadata: style("8", false),
	}
}

type consoleLogger struct {
	prefixes     []string
	metadata     map[string]interface{}
	palette      *palette
	out          io.Writer
	sink         Sink
	logLevel     LogLevel
	sinkLogLevel LogLevel
	child        Logger
}

var _ SinkLogger = (*consoleLogger)(nil)

func (c *consoleLogger) WithContext(ctx context.Context) Logger {
	if c.child == nil {
		return c
	}
	clone := c.clone()
	clone.child = clone.child.WithContext(ctx)
	return clone
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	if l.child != nil {
		l.child = l.child.WithPrefix(prefix)
	}
	return l
}

func (c *consoleLogger) clone() *consoleLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	clone := *c
	clone.prefixes = slices.Clone(c.prefixes)
	clone.metadata = metadata
	return &clone
}

func (c *consoleLogger) SetSink(sink Sink, level LogLevel) {
	c.sink = sink
	c.sinkLogLevel = level
	if c.child != nil {
		if child, ok := c.child.(SinkLogger); ok {
			child.SetSink(sink, level)
		}
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	if clone.child != nil {
		clone.child = clone.child.With(metadata)
	}
	return clone
}

// format renders one console line: level label, prefixes, message and
// metadata as JSON.
func (c *consoleLogger) format(level LogLevel, msg string, args ...interface{}) string {
	st := c.palette.levels[level]
	var b strings.Builder
	b.WriteString(st.label.Render("[" + st.name + "]"))
	b.WriteString(strings.Repeat(" ", 6-len(st.name)))
	if len(c.prefixes) > 0 {
		b.WriteString(c.palette.prefix.Render(strings.Join(c.prefixes, " ")))
		b.WriteByte(' ')
	}
	b.WriteString(st.message.Render(fmt.Sprintf(msg, args...)))
	if len(c.metadata) > 0 {
		buf, _ := json.Marshal(c.metadata)
		b.WriteByte(' ')
		b.WriteString(c.palette.metadata.Render(string(buf)))
	}
	return b.String()
}

func (c *consoleLogger) Log(level LogLevel, msg string, args ...interface{}) {
	if level >= LevelNone {
		return
	}
	console := level >= c.logLevel
	sink := c.sink != nil && level >= c.sinkLogLevel
	if !console && !sink {
		return
	}
	line := c.format(level, msg, args...)
	if console {
		fmt.Fprintln(c.out, line)
	}
	if sink {
		ts := time.Now().Format(time.RFC3339Nano)
		c.sink.Write([]byte(ts + " " + ansiColorStripper.ReplaceAllString(line, "") + "\n"))
	}
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.Log(LevelTrace, msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.Log(LevelDebug, msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.Log(LevelInfo, msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.Log(LevelWarn, msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.Log(LevelError, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *consoleLogger) Fatal(msg string, args ...interface{}) {
	c.Log(LevelError, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...) // Error because we want to log the error before exiting
	}
	os.Exit(1)
}

func (c *consoleLogger) Stack(next Logger) Logger {
	clone := c.clone()
	clone.child = next
	return clone
}

// NewConsoleLogger returns a Logger writing colored lines to stderr. The
// level defaults to $MEMO_LOG_LEVEL.
func NewConsoleLogger(levels ...LogLevel) SinkLogger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return NewConsoleLoggerTo(os.Stderr, level)
}

// NewConsoleLoggerTo returns a console Logger writing to w.
func NewConsoleLoggerTo(w io.Writer, level LogLevel) SinkLogger {
	return &consoleLogger{
		palette:      newPalette(w),
		out:          w,
		logLevel:     level,
		sinkLogLevel: LevelNone,
	}
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	if levelEnabled(level, c.logLevel, c.sinkLogLevel, c.sink != nil) {
		return true
	}
	return c.child != nil && c.child.IsLevelEnabled(level)
}

func (c *consoleLogger) IsTraceEnabled() bool { return c.IsLevelEnabled(LevelTrace) }
func (c *consoleLogger) IsDebugEnabled() bool { return c.IsLevelEnabled(LevelDebug) }
func (c *consoleLogger) IsInfoEnabled() bool  { return c.IsLevelEnabled(LevelInfo) }
func (c *consoleLogger) IsWarnEnabled() bool  { return c.IsLevelEnabled(LevelWarn) }
func (c *consoleLogger) IsErrorEnabled() bool { return c.IsLevelEnabled(LevelError) }
