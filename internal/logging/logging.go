// Package logging configures the daemon's own structured, rotated log.
//
// This is distinct from internal/logbuf, which captures supervised
// children's stdout/stderr — this package is for the daemon's own
// operational log (startup, lifecycle transitions, errors).
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the daemon's log is written.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// FilePath, if set, rotates the log through lumberjack instead of
	// writing to stderr.
	FilePath   string
	MaxSizeMB  int // megabytes per file before rotation, lumberjack default 100
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a slog.Logger per cfg. With no FilePath, it logs JSON to
// stderr exactly as the teacher's daemon does; with a FilePath set, the
// writer is a rotating lumberjack.Logger.
func New(cfg Config) *slog.Logger {
	var writer io.Writer = os.Stderr
	if cfg.FilePath != "" {
		writer = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level)}
	handler := slog.NewJSONHandler(writer, opts)
	return slog.New(handler)
}

func levelFromString(s string) slog.Level {
	switch s {
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
