// Package logging owns the process-wide zerolog root logger.
// Components derive scoped loggers via GetDefaultLogger().With().
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger *zerolog.Logger
	loggerOnce    sync.Once
)

// GetDefaultLogger returns the process root logger, initializing it on first use.
// The level is taken from the LOG_LEVEL environment variable (default info).
func GetDefaultLogger() *zerolog.Logger {
	loggerOnce.Do(initDefaultLogger)
	return defaultLogger
}

func initDefaultLogger() {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	var logger zerolog.Logger
	if os.Getenv("LOG_FORMAT") == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.StampMilli,
		})
	}
	logger = logger.Level(level).With().Timestamp().Logger()
	defaultLogger = &logger
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
