package telemetry

import (
	"io"
	"log/slog"

	"github.com/pthm-cable/grainsim/config"
)

// NewLogger creates a leveled slog.Logger writing text or JSON to w.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LoggerFromConfig builds the logger described by the logging section.
func LoggerFromConfig(w io.Writer, cfg *config.Config) *slog.Logger {
	return NewLogger(w, cfg.Derived.LogLevel, cfg.Derived.JSONLogs)
}
