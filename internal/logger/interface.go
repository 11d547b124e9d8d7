package logger

import "github.com/PatrickBaus/data-logger/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	Fatal() *LogEvent
	With(component string) Logger
}
