// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the shared logger. Setup replaces it; the zero value writes JSON to
// stdout so packages can log before Setup runs.
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Setup initializes the shared logger. Debug mode switches to the console
// writer and lowers the level to Debug.
func Setup(debug bool) {
	if debug {
		Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger().
			Level(zerolog.DebugLevel)
		return
	}
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}
