// Package logger configures the process-wide zerolog logger and hands out
// small per-component sub-loggers.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, configured by Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger. level is a zerolog level name
// ("debug", "info", "warn", "error"); pretty switches to console-friendly
// output for local development.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		// Colorized, human-readable lines for a developer's terminal.
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// Unix-timestamp JSON fields, cheaper to parse for log aggregators.
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "messagehub").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func init() {
	// Safe default so packages that log before Initialize runs (e.g. in
	// tests) don't panic on a zero-value logger.
	Log = zerolog.New(os.Stderr).With().Timestamp().Str("service", "messagehub").Logger()
}

// Hub returns a sub-logger tagged for the MessageHub component.
func Hub() *zerolog.Logger {
	l := Log.With().Str("component", "hub").Logger()
	return &l
}

// Router returns a sub-logger tagged for the Router component.
func Router() *zerolog.Logger {
	l := Log.With().Str("component", "router").Logger()
	return &l
}

// Transport returns a sub-logger tagged for a named transport instance.
func Transport(name string) *zerolog.Logger {
	l := Log.With().Str("component", "transport").Str("transport", name).Logger()
	return &l
}

// Channels returns a sub-logger tagged for the ChannelManager component.
func Channels() *zerolog.Logger {
	l := Log.With().Str("component", "channels").Logger()
	return &l
}
