package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger represents a simple logger interface
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// NewLogger creates a new JSON logger writing to stdout with the specified level
func NewLogger(level string) Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates a logger that writes JSON records to w
func NewWithWriter(w io.Writer, level string) Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &slogLogger{l: slog.New(h)}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() Logger {
	return NewWithWriter(io.Discard, "error")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogLogger) Debug(msg string, keyvals ...interface{}) {
	s.l.Debug(msg, normalize(keyvals)...)
}

func (s *slogLogger) Info(msg string, keyvals ...interface{}) {
	s.l.Info(msg, normalize(keyvals)...)
}

func (s *slogLogger) Warn(msg string, keyvals ...interface{}) {
	s.l.Warn(msg, normalize(keyvals)...)
}

func (s *slogLogger) Error(msg string, keyvals ...interface{}) {
	s.l.Error(msg, normalize(keyvals)...)
}

// With returns a child logger that always carries keyvals
func (s *slogLogger) With(keyvals ...interface{}) Logger {
	return &slogLogger{l: s.l.With(normalize(keyvals)...)}
}

// normalize makes sure errors render as strings and odd-length lists don't panic
func normalize(keyvals []interface{}) []interface{} {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "missing")
	}

	for i := 1; i < len(keyvals); i += 2 {
		if err, ok := keyvals[i].(error); ok {
			keyvals[i] = err.Error()
		}
	}

	return keyvals
}
