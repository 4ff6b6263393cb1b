// Package logger configures the process-wide zerolog logger and hands out
// component loggers derived from it.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json, console
	TimeFormat string // Go layout; "unix" for epoch seconds
	Output     string // stdout, stderr, or file path
}

// DefaultConfig is used until the configuration has been loaded.
func DefaultConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
		Output:     "stderr",
	}
}

// Setup replaces the global logger. Extracted text is written to stdout, so
// logs go to stderr unless told otherwise.
func Setup(config LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(config.Level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch strings.ToLower(config.TimeFormat) {
	case "":
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	default:
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	out, err := openOutput(config.Output)
	if err != nil {
		return fmt.Errorf("open log output %q: %w", config.Output, err)
	}
	if !strings.EqualFold(config.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
			NoColor:    out != os.Stdout && out != os.Stderr,
		}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

func openOutput(target string) (io.Writer, error) {
	switch strings.ToLower(target) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// WithRequestID tags HTTP request logs.
func WithRequestID(requestID string) zerolog.Logger {
	return log.Logger.With().Str("component", "http").Str("request_id", requestID).Logger()
}

// WithDocument returns a component logger for one input document.
func WithDocument(component, filename, format string) zerolog.Logger {
	return log.Logger.With().
		Str("component", component).
		Str("file", filename).
		Str("format", format).
		Logger()
}
