package centrifuge

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger receives structured diagnostic events from the client. The
// interface shape follows go-server-2/src/logger.go: a handful of leveled
// methods taking a message plus key/value pairs, so a caller can plug in
// their own backend without this module depending on a particular logging
// library's concrete type in its public surface.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

// zerologLogger is the default Logger, backed by zerolog the way
// go-server-2's NewLogger wires it: console-friendly output, leveled by a
// LogLevel equivalent (here just the Debug flag).
type zerologLogger struct {
	log zerolog.Logger
}

// NewDefaultLogger returns the built-in zerolog-backed Logger. debug
// enables Debug-level lines; everything else stays at Info and above.
func NewDefaultLogger(debug bool) Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	l := zerolog.New(w).Level(level).With().Timestamp().Str("component", "centrifuge").Logger()
	return &zerologLogger{log: l}
}

func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (l *zerologLogger) Debug(msg string, kv ...any) {
	withFields(l.log.Debug(), kv).Msg(msg)
}

func (l *zerologLogger) Info(msg string, kv ...any) {
	withFields(l.log.Info(), kv).Msg(msg)
}

func (l *zerologLogger) Warn(msg string, kv ...any) {
	withFields(l.log.Warn(), kv).Msg(msg)
}

func (l *zerologLogger) Error(msg string, err error, kv ...any) {
	withFields(l.log.Error().Err(err), kv).Msg(msg)
}

// noopLogger discards everything; used by tests that don't want console
// noise.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any)      {}
func (noopLogger) Info(string, ...any)       {}
func (noopLogger) Warn(string, ...any)       {}
func (noopLogger) Error(string, error, ...any) {}
