package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log levels accepted by ParseLevel
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a child logger that adds fields to every entry
	WithFields(fields map[string]interface{}) Logger
}

// LoggerConfig configures a slog-backed Logger
type LoggerConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default INFO)
	Level string

	// Format is "text" or "json" (default text)
	Format string

	// Output defaults to os.Stderr
	Output io.Writer
}

// slogLogger implements Logger on top of log/slog
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a Logger from config
func NewLogger(config LoggerConfig) Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &slogLogger{logger: slog.New(handler)}
}

// NewDefaultLogger creates a text logger on stderr at INFO level
func NewDefaultLogger() Logger {
	return NewLogger(LoggerConfig{})
}

// NopLogger discards everything
func NopLogger() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// log accepts either plain values or a message followed by key/value pairs,
// e.g. logger.Error("publish failed", "error", err)
func (l *slogLogger) log(level slog.Level, args []interface{}) {
	if msg, ok := firstString(args); ok && len(args)%2 == 1 {
		l.logger.Log(context.Background(), level, msg, args[1:]...)
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprint(args...))
}

func firstString(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

func (l *slogLogger) Error(args ...interface{}) { l.log(slog.LevelError, args) }

func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Warn(args ...interface{}) { l.log(slog.LevelWarn, args) }

func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(args ...interface{}) { l.log(slog.LevelInfo, args) }

func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Debug(args ...interface{}) { l.log(slog.LevelDebug, args) }

func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// WithFields returns a child logger carrying the given fields
func (l *slogLogger) WithFields(fields map[string]interface{}) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &slogLogger{logger: l.logger.With(args...)}
}
