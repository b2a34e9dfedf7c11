// Package telemetry decouples simulation/ledger/lifecycle components from the
// concrete logging.Router so they can be unit tested with plain fakes.
package telemetry

import (
	"log"

	"github.com/Skriptersz/agariogambling/logging"
)

// Logger is the minimal logging surface required by core components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts a function into a Logger.
type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger into a Logger.
func WrapLogger(l *log.Logger) Logger {
	return &loggerAdapter{logger: l}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// Publisher re-exports logging.Publisher so callers outside logging do not
// need to import it directly for the common case.
type Publisher = logging.Publisher
