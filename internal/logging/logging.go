// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger writing human-readable output to
// stderr. Debug enables debug-level records.
func Init(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// Component returns a logger tagged with the engine component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Silence routes all log output to the given writer; tests pass
// io.Discard to keep output clean.
func Silence(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	log.Logger = zerolog.New(w)
}
