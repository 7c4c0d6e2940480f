package logger

import (
	"io"
	"os"

	"quotaledger/internal/config"

	"github.com/rs/zerolog"
)

// New reads ENV and LOG_LEVEL straight from the process environment. It is meant for
// messages emitted before the config is loaded.
func New() zerolog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
}

// FromConfig builds the logger from loaded settings, including values read from .env.
func FromConfig(cfg *config.Config) zerolog.Logger {
	return NewWithWriter(os.Stderr, cfg.Environment, cfg.LogLevel)
}

// NewWithWriter builds the service logger on top of w. Level defaults to info.
func NewWithWriter(w io.Writer, env, level string) zerolog.Logger {
	// For Google Cloud Logging, the level field name should be "severity".
	zerolog.LevelFieldName = "severity"
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(w).With().Timestamp().Logger()

	// Use ConsoleWriter for local development for more readable logs.
	if env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}
