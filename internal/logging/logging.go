// Package logging builds the structured loggers used by the server and the
// admin CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/adamscao/breakglass/internal/config"
)

// New creates a logger writing to stderr in the configured format and level
func New(cfg config.LoggingConfig) *slog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

// NewCommandLogger creates a logger for admin commands. A terminal gets
// text output, anything else gets JSON.
func NewCommandLogger(level string) *slog.Logger {
	format := "json"
	if term.IsTerminal(int(os.Stderr.Fd())) {
		format = "text"
	}
	return New(config.LoggingConfig{Level: level, Format: format})
}

// ParseLevel maps a config level name to a slog level. Unknown names
// select info.
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
