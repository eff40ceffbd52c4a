// Package logger configures the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a level name to its slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	if level, ok := levels[name]; ok {
		return level
	}
	return slog.LevelInfo
}

// New builds a logger writing to w. Format "json" emits one JSON object per
// line for machine consumers, anything else renders for terminals.
func New(w io.Writer, level, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(level),
		TimeFormat: time.Kitchen,
	}))
}

// Init installs the default logger on stderr
func Init(level, format string) {
	slog.SetDefault(New(os.Stderr, level, format))
}
