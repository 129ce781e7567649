package cliconfig

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Logger returns the bootstrap CLI logger used before configuration is loaded.
func Logger() zerolog.Logger {
	return logger
}
