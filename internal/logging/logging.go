// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger for the given verbosity and writes
// human-readable console output to w (os.Stderr when nil).
func Setup(verbosity int, w io.Writer) {
	switch {
	case verbosity <= 0:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case verbosity == 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case verbosity == 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()
	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", verbosity).Msg("Logger initialized")
}

// GetLogger returns a child logger tagged with a component name.
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// LogCommand records an external command invocation at debug level.
func LogCommand(logger zerolog.Logger, name string, args []string) {
	logger.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("Executing command")
}

// LogOperationStart logs the start of an operation and returns a function
// that logs its completion and duration.
func LogOperationStart(logger zerolog.Logger, operation string) func() {
	start := time.Now()
	logger.Debug().Str("operation", operation).Msg("Operation started")
	return func() {
		logger.Debug().
			Str("operation", operation).
			Dur("duration", time.Since(start)).
			Msg("Operation completed")
	}
}
