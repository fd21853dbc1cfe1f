// Package sysutil holds process-level helpers shared by the habitd commands:
// global logger setup and parsing of operator-supplied times.
package sysutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
// Empty and unknown values fall back to info.
func SetLogLevel(lvl string) {
	v := strings.ToLower(strings.TrimSpace(lvl))
	if v == "warning" {
		v = "warn"
	}
	level, err := zerolog.ParseLevel(v)
	if err != nil || v == "" || level == zerolog.NoLevel || level < zerolog.DebugLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// SetupLogger installs the global logger with service and version fields.
// pretty switches to the human-readable console writer.
func SetupLogger(w io.Writer, level string, pretty bool, service, version string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	SetLogLevel(level)

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
	return log.Logger
}

// ParseAt reads a --at value: RFC3339, or a bare YYYY-MM-DD meaning the end
// of that UTC day. Empty returns now.
func ParseAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return d.Add(24*time.Hour - time.Second), nil
}
