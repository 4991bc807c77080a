// Package util provides shared helpers for logging, request correlation, and
// retries.
package util

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions selects where and how log lines are written.
type LogOptions struct {
	Level  string
	Format string // "json" (default) or "text"

	// File, when set, receives log output instead of stdout and is rotated
	// once it exceeds MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// NewLogger creates a structured JSON logger on stdout at the specified
// level. Supported levels: "debug", "info", "warn", "error". Defaults to
// "info" if the level string is not recognised.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, LogOptions{Level: level})
}

// NewLoggerWithOptions creates a logger writing to stdout or, when
// opts.File is set, to a rotating log file.
func NewLoggerWithOptions(opts LogOptions) *slog.Logger {
	return NewLoggerTo(LogWriter(opts), opts)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, opts LogOptions) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "text") {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

// LogWriter returns stdout, or a lumberjack rotator for opts.File.
func LogWriter(opts LogOptions) io.Writer {
	if opts.File == "" {
		return os.Stdout
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 100
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
