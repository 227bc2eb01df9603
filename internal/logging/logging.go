// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/upd8r/upd8r/internal/privacy"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options selects level and output format.
type Options struct {
	Level    string // trace, debug, info, warn, error
	Format   string // console or json
	Redactor *privacy.Redactor
}

// New returns a logger writing to w. Console output is human readable;
// json output keeps one structured event per line.
func New(w io.Writer, opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	w = opts.Redactor.Writer(w)
	out := w
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat, NoColor: true}
	}
	return zerolog.New(out).
		Level(ParseLevel(opts.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, falling back to def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
