// Package logging wraps zerolog with lstore-specific component loggers, so
// every package logs under a consistent "component" field instead of each
// one reinventing its own prefix.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output, for interactive use
	Output io.Writer
}

// Logger wraps a zerolog.Logger scoped to one component (bufferpool, pagedir,
// table, wal, lstoredb, ...).
type Logger struct {
	z zerolog.Logger
}

var root zerolog.Logger

// Init sets up the process-wide root logger. Call once at startup; every
// For returns a logger derived from it.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	root = zerolog.New(out).With().Timestamp().Str("service", "lstore").Logger()
}

func init() {
	Init(Config{Level: "info"})
}

// For returns a logger scoped to the named component, e.g. logging.For("bufferpool").
func For(component string) *Logger {
	return &Logger{z: root.With().Str("component", component).Logger()}
}

// WithTable returns a derived logger further scoped to a table name.
func (l *Logger) WithTable(table string) *Logger {
	return &Logger{z: l.z.With().Str("table", table).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.z.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.z.Error() }
