// Package seclog is the small structured logger that secopd serve builds
// from its config and passes around explicitly instead of reaching for a
// global logger. The Registry, Node, Module and Worker constructors do not
// take one.
package seclog

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface an actor depends on. Keeping it an
// interface (rather than handing out *slog.Logger directly) lets tests
// swap in a recording stub without touching slog.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// slogLogger adapts a *slog.Logger to Logger, mirroring the teacher's
// daemonLogger wrapper.
type slogLogger struct {
	logger *slog.Logger
}

// New builds a Logger writing text-formatted records to w at the given
// level. Use NewRotating for a lumberjack-backed file sink.
func New(w io.Writer, level slog.Level) Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NewRotating builds a Logger writing to a rotating log file (config-driven
// path/size/backups/age per internal/secopconfig's log.* keys).
func NewRotating(path string, maxSizeMB, maxBackups, maxAgeDays int, level slog.Level) Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return New(sink, level)
}

// ParseLevel maps a config string ("debug"/"info"/"warn"/"error") to a
// slog.Level, defaulting to Info for anything unrecognized.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l *slogLogger) Info(msg string, kv ...any)  { l.logger.Info(msg, kv...) }
func (l *slogLogger) Warn(msg string, kv ...any)  { l.logger.Warn(msg, kv...) }
func (l *slogLogger) Error(msg string, kv ...any) { l.logger.Error(msg, kv...) }

func (l *slogLogger) With(kv ...any) Logger {
	return &slogLogger{logger: l.logger.With(kv...)}
}

// Discard is a Logger that drops every record, for tests and callers that
// haven't wired real logging yet.
var Discard Logger = New(io.Discard, slog.LevelError)
