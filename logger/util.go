package logger

// WithKV returns a logger carrying one extra metadata pair.
func WithKV(l Logger, key string, value interface{}) Logger {
	return l.With(map[string]interface{}{key: value})
}

// levelEnabled reports whether a message at level reaches either the console
// threshold or the sink threshold.
func levelEnabled(level, console, sink LogLevel, hasSink bool) bool {
	if level >= LevelNone {
		return false
	}
	if level >= console {
		return true
	}
	return hasSink && level >= sink
}
