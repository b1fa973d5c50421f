// Package logger provides a configured zerolog logger.
package logger

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

var installOnce sync.Once

// withStack returns err unchanged when any error in its chain already
// carries a pkg/errors stack, and wraps it with the caller's stack otherwise.
func withStack(err error) error {
	var st stackTracer
	if err == nil || errors.As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

func marshalStack(err error) interface{} {
	return zpkgerrors.MarshalStack(withStack(err))
}

func marshalError(err error) interface{} {
	return withStack(err)
}

// installMarshalers sets the zerolog error hooks. They are process globals,
// so they are installed once no matter how many loggers are built.
func installMarshalers() {
	installOnce.Do(func() {
		zerolog.ErrorStackMarshaler = marshalStack
		zerolog.ErrorMarshalFunc = marshalError
	})
}

// New returns a JSON logger on stdout. Use .Stack() on error events to
// include a stack trace.
func New(serviceName string) zerolog.Logger {
	return NewWithWriter(serviceName, os.Stdout)
}

// NewWithWriter is New with an explicit sink (tests, CLI stderr).
func NewWithWriter(serviceName string, w io.Writer) zerolog.Logger {
	installMarshalers()
	return zerolog.New(w).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// WithLevel returns l restricted to the named level. Unknown names fall back to info.
func WithLevel(l zerolog.Logger, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return l.Level(lvl)
}

// Component tags l with the subsystem name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
