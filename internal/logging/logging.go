// Package logging sets up the process-internal diagnostic logger. It never
// touches the central store and stays usable when everything else fails.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config represents diagnostic logging configuration.
type Config struct {
	Level  string `toml:"level" env:"DIAG_LEVEL" flag:"diag-level"`
	Format string `toml:"format" env:"DIAG_FORMAT"`
}

// New builds a diagnostic logger writing to w (stderr when nil). The
// returned LevelVar can be adjusted while the logger is in use.
func New(cfg Config, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	if w == nil {
		w = os.Stderr
	}
	levelVar := &slog.LevelVar{}
	if lvl, ok := ParseLevel(cfg.Level); ok {
		levelVar.Set(lvl)
	}

	opts := &slog.HandlerOptions{Level: levelVar}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), levelVar
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
