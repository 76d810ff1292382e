// Package logger builds the application's structured logger: a slog.Logger
// that writes to stderr, in color when attached to a terminal. It has
// nothing to do with a job's own stdout/stderr capture, which the
// supervisor package writes directly to truncated files per run.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls the application-level slog.Logger built by New.
type Config struct {
	// Level is one of "debug", "info", "warn", "error" (case-insensitive).
	// Unrecognized values fall back to "info".
	Level string
	// Format is "text" or "json" (case-insensitive). Anything else,
	// including the zero value, falls back to "text". JSON output never
	// colors, regardless of Color/ForceColor.
	Format string
	// Color enables ANSI level coloring. Ignored when Writer isn't a
	// terminal, unless ForceColor is set.
	Color      bool
	ForceColor bool
	// Source adds the caller's file:line to each record.
	Source bool
	// Writer defaults to os.Stderr when nil.
	Writer io.Writer
}

func (c Config) level() slog.Level {
	switch strings.ToLower(c.Level) {
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

// New builds a slog.Logger per cfg. It does not call slog.SetDefault;
// callers that want this logger to back package-level slog.Info/Error
// calls must do that themselves.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.level(), AddSource: cfg.Source}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	useColor := cfg.ForceColor || (cfg.Color && isTerminal(w))
	if useColor {
		return slog.New(NewColorTextHandler(w, opts, true))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
