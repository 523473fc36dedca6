// Package logging builds the controller's root zerolog.Logger. Every
// component layers its own "component" field on top via log.With()...Logger(),
// matching the teacher's api/internal/logger shape but without a package
// global — the engine threads one logger through its constructors instead.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for "identifier" (the controller's configured
// identity, config.toml's `identifier` field). level is any zerolog level
// name ("debug", "info", "warn", ...); an unparseable level falls back to
// info. pretty selects a human-readable console writer for local
// development instead of JSON lines.
func New(identifier, level string, pretty bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	var log zerolog.Logger
	if pretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log = zerolog.New(writer)
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log = zerolog.New(os.Stdout)
	}

	return log.Level(parsed).With().
		Timestamp().
		Str("service", "atomic-cloud-controller").
		Str("identifier", identifier).
		Logger()
}
