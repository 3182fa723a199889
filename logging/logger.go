// Package logging builds the structured slog logger shared by every edgesim
// component.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ilievs/edgesim/config"
)

// New creates a logger for the given service. Format is json or text
// (default), output is stdout (default) or stderr.
func New(cfg config.LoggingConfig, service, version string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newWithWriter(output, cfg, service, version)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, service, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// ParseLevel converts debug, info, warn or error to a slog level. Unknown
// values fall back to info.
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

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
