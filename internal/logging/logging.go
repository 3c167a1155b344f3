// Package logging is a narrow facade over github.com/joeycumines/logiface,
// backed by github.com/joeycumines/izerolog (github.com/rs/zerolog), used
// for the ambient structured logging emitted by the reactor, channel and
// net transports.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger wraps a logiface logger configured with the izerolog backend.
type Logger struct {
	l *logiface.Logger[*izerolog.Event]
}

// Nop is a Logger that discards everything; the zero value is not usable
// directly because the underlying logiface.Logger must be constructed via
// New.
var Nop = New(io.Discard, LevelError+1)

// Level mirrors logiface.Level, re-exported so callers need not import
// logiface directly.
type Level = logiface.Level

const (
	LevelEmergency     = logiface.LevelEmergency
	LevelAlert         = logiface.LevelAlert
	LevelCritical      = logiface.LevelCritical
	LevelError         = logiface.LevelError
	LevelWarning       = logiface.LevelWarning
	LevelNotice        = logiface.LevelNotice
	LevelInformational = logiface.LevelInformational
	LevelDebug         = logiface.LevelDebug
	LevelTrace         = logiface.LevelTrace
	LevelDisabled      = logiface.LevelDisabled
)

// New builds a Logger writing JSON lines to w, filtered at level.
func New(w io.Writer, level Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{
		l: logiface.New[*izerolog.Event](
			izerolog.WithZerolog(zl),
			logiface.WithLevel[*izerolog.Event](level),
		),
	}
}

// Default returns a Logger writing to os.Stderr at informational level,
// the same default the teacher repo's own integration tests use for
// zerolog-backed loggers.
func Default() *Logger {
	return New(os.Stderr, LevelInformational)
}

func (l *Logger) with(b *logiface.Builder[*izerolog.Event], fields []Field) *logiface.Builder[*izerolog.Event] {
	for _, f := range fields {
		b = f.apply(b)
	}
	return b
}

// Field is a deferred structured key/value pair.
type Field struct {
	apply func(*logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event]
}

func Str(key, val string) Field {
	return Field{func(b *logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event] { return b.Str(key, val) }}
}

func Int(key string, val int) Field {
	return Field{func(b *logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event] { return b.Int(key, val) }}
}

func Err(err error) Field {
	return Field{func(b *logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event] { return b.Err(err) }}
}

func Bool(key string, val bool) Field {
	return Field{func(b *logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event] { return b.Bool(key, val) }}
}

func (l *Logger) Debugf(msg string, fields ...Field) {
	if b := l.l.Debug(); b != nil {
		l.with(b, fields).Log(msg)
	}
}

func (l *Logger) Infof(msg string, fields ...Field) {
	if b := l.l.Info(); b != nil {
		l.with(b, fields).Log(msg)
	}
}

func (l *Logger) Warnf(msg string, fields ...Field) {
	if b := l.l.Warning(); b != nil {
		l.with(b, fields).Log(msg)
	}
}

func (l *Logger) Errorf(msg string, fields ...Field) {
	if b := l.l.Err(); b != nil {
		l.with(b, fields).Log(msg)
	}
}
