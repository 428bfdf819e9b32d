package logger

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"
)

// SlogLogger implements Logger on top of a slog.Logger
type SlogLogger struct {
	module   string
	logger   *slog.Logger
	level    slog.Level
	timezone *time.Location
	fields   []Field
}

// NewSlogLogger creates a logger writing JSON lines to writer. Tests use it with a bytes.Buffer.
func NewSlogLogger(writer io.Writer, level LogLevel, timezone *time.Location) *SlogLogger {
	if writer == nil {
		writer = os.Stdout
	}
	if timezone == nil {
		timezone = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &SlogLogger{
		logger:   slog.New(newJSONHandler(writer, lvl, timezone)),
		level:    lvl,
		timezone: timezone,
	}
}

// NewConsoleLogger creates a text logger on stdout for use before configuration is loaded.
func NewConsoleLogger(module string, level LogLevel) *SlogLogger {
	lvl := parseSlogLevel(level)
	return &SlogLogger{
		module:   module,
		logger:   slog.New(newTextHandler(os.Stdout, lvl, time.Local)),
		level:    lvl,
		timezone: time.Local,
	}
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *SlogLogger {
	return NewSlogLogger(io.Discard, LogLevelError, time.UTC)
}

// Module creates a sub-module logger named parent.child
func (l *SlogLogger) Module(name string) Logger {
	module := name
	if l.module != "" {
		module = l.module + "." + name
	}
	return &SlogLogger{
		module:   module,
		logger:   l.logger,
		level:    l.level,
		timezone: l.timezone,
		fields:   slices.Clone(l.fields),
	}
}

func (l *SlogLogger) Trace(msg string, fields ...Field) {
	if l.level > traceLevelValue {
		return
	}
	l.log(traceLevelValue, msg, fields)
}

func (l *SlogLogger) Debug(msg string, fields ...Field) {
	if l.level > slog.LevelDebug {
		return
	}
	l.log(slog.LevelDebug, msg, fields)
}

func (l *SlogLogger) Info(msg string, fields ...Field) {
	if l.level > slog.LevelInfo {
		return
	}
	l.log(slog.LevelInfo, msg, fields)
}

func (l *SlogLogger) Warn(msg string, fields ...Field) {
	if l.level > slog.LevelWarn {
		return
	}
	l.log(slog.LevelWarn, msg, fields)
}

func (l *SlogLogger) Error(msg string, fields ...Field) {
	l.log(slog.LevelError, msg, fields)
}

// Log logs a message with explicit level
func (l *SlogLogger) Log(level LogLevel, msg string, fields ...Field) {
	lvl := parseSlogLevel(level)
	if l.level > lvl {
		return
	}
	l.log(lvl, msg, fields)
}

// With returns a new logger with accumulated fields
func (l *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{
		module:   l.module,
		logger:   l.logger,
		level:    l.level,
		timezone: l.timezone,
		fields:   slices.Concat(l.fields, fields),
	}
}

// WithContext attaches the trace ID carried by ctx, if any
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	traceID := getTraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.With(String(traceIDKey, traceID))
}

func (l *SlogLogger) Flush() error {
	return nil
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	attrs := make([]slog.Attr, 0, len(l.fields)+len(fields)+1)
	if l.module != "" {
		attrs = append(attrs, slog.String(moduleKey, l.module))
	}
	for i := range l.fields {
		attrs = append(attrs, fieldToAttr(l.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}
