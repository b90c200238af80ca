// Package logging configures structured logging for the server.
//
// Usage:
//
//	logger := logging.Setup()                 // from LOG_FORMAT and LOG_LEVEL
//	logger := logging.New(logging.Options{    // explicit configuration
//		Format: logging.FormatJSON,
//		Level:  slog.LevelDebug,
//	})
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
//	LOG_FORMAT: text (colored, default) or json
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options select the handler New builds.
type Options struct {
	Format string
	Level  slog.Level
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// NoColor disables ANSI colors in text output.
	NoColor bool
}

// Setup configures the default logger from LOG_FORMAT and LOG_LEVEL and
// returns it.
func Setup() *slog.Logger {
	logger := New(Options{
		Format: os.Getenv("LOG_FORMAT"),
		Level:  ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	slog.SetDefault(logger)
	return logger
}

// New builds a logger: tint for text, slog's JSON handler for json.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	if strings.EqualFold(opts.Format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: true,
		}))
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.Kitchen,
		AddSource:  true,
		NoColor:    opts.NoColor,
	}))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
