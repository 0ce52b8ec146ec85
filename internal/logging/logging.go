// Package logging configures the zerolog logger shared by keg's components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global logger for the given verbosity.
// Console output goes to stderr; when logFile is non-empty the same events
// are appended there as JSON.
func SetupLogger(verbosity int, noColor bool, logFile string) {
	zerolog.SetGlobalLevel(LevelFor(verbosity))

	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	})

	var fileErr error
	if logFile != "" {
		f, err := openLogFile(logFile)
		if err == nil {
			writers = append(writers, f)
		}
		fileErr = err
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()

	if fileErr != nil {
		log.Debug().Err(fileErr).Str("path", logFile).Msg("Logging to console only")
	}

	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", verbosity).Str("logFile", logFile).Msg("Logger initialized")
}

// LevelFor maps a -v count to a zerolog level.
func LevelFor(verbosity int) zerolog.Level {
	switch verbosity {
	case 0:
		return zerolog.WarnLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// GetLogger returns a logger tagged with the component name.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// LogOperationStart logs the start of an operation and returns a func that
// logs its duration when called.
func LogOperationStart(logger zerolog.Logger, op string) func() {
	start := time.Now()
	logger.Debug().Str("op", op).Msg("Starting")
	return func() {
		logger.Debug().Str("op", op).Dur("elapsed", time.Since(start)).Msg("Finished")
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
