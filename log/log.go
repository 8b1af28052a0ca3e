// Package log provides structured logging for metricproof. It wraps
// go-ethereum's slog-based logger with per-module child loggers and a
// verbosity mapping shared by every command.
package log

import (
	"io"
	"log/slog"
	"os"

	gethlog "github.com/ethereum/go-ethereum/log"
)

// Logger wraps a go-ethereum logger with module-scoped context.
type Logger struct {
	inner gethlog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo)
}

// New creates a Logger that writes terminal-formatted lines to stderr at the
// given level.
func New(level slog.Level) *Logger {
	return NewTerminal(os.Stderr, level, false)
}

// NewTerminal creates a Logger writing human-readable lines to w.
func NewTerminal(w io.Writer, level slog.Level, color bool) *Logger {
	return &Logger{inner: gethlog.NewLogger(gethlog.NewTerminalHandlerWithLevel(w, level, color))}
}

// NewJSON creates a Logger writing one JSON object per line to w.
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return &Logger{inner: gethlog.NewLogger(gethlog.JSONHandlerWithLevel(w, level))}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler. This
// is useful for testing or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: gethlog.NewLogger(h)}
}

// SetDefault replaces the package-level default logger and installs it as
// go-ethereum's root logger, so library code logs through the same handler.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
		gethlog.SetDefault(l.inner)
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// VerbosityToLevel maps the 0-5 verbosity scale used by the command line to
// a slog level.
func VerbosityToLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 1:
		return slog.LevelError
	case verbosity == 2:
		return slog.LevelWarn
	case verbosity == 3:
		return slog.LevelInfo
	case verbosity == 4:
		return slog.LevelDebug
	default:
		return gethlog.LevelTrace
	}
}

// Module returns a child logger with an additional "module" attribute. This
// is the primary way subsystems (commitment, zkvm, verifier, ...) obtain
// their own contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Trace logs at LevelTrace.
func (l *Logger) Trace(msg string, args ...any) { l.inner.Trace(msg, args...) }

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// Module returns a child of the default logger tagged with name.
func Module(name string) *Logger { return defaultLogger.Module(name) }
