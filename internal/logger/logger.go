// Package logger sets up the process-wide zerolog configuration.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the root logger: JSON to stderr at info level, or a
// console writer with debug level and stack traces when debug is set.
func Setup(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if debug {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out: os.Stderr,
			FormatTimestamp: func(any) string {
				return time.Now().Format(time.RFC3339)
			},
		}).With().Stack().Logger()
	}

	return logger
}
