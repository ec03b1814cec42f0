// Package logging builds the process-wide zerolog.Logger, matching the
// teacher's monitoring/logger.go: JSON by default (Loki-friendly), console
// writer for local development, level parsed from config.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures the logger. Format is "json" or "text"; Level is
// debug/info/warn/error.
type Options struct {
	Level  string
	Format string
}

// New builds a zerolog.Logger writing to stdout.
func New(opts Options) zerolog.Logger {
	level := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(opts.Format, "text") {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
			Level(level).
			With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
