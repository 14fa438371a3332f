// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"serial2mqtt/config"
)

// New returns a logger writing to w in the configured format and level.
// The console format is meant for an attached terminal, json for journald
// or a log shipper.
func New(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	// config.Validate rejects unknown levels before we get here.
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "serial2mqtt").
		Logger()
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level. An empty value
// means info; anything zerolog does not know is an error.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}
