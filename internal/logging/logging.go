package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the service logger. Dev environments get human-readable console
// output; everything else logs JSON to stdout.
func New(envName, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if envName == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("service", service).Logger()
}
