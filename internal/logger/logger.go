package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/PatrickBaus/data-logger/internal/errors"
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

type logger struct {
	log zerolog.Logger
}

// Init creates a logger writing human-readable output to stdout. When running
// as a service the timestamp is dropped, because the service manager prefixes
// its own.
func Init(level string, isService bool) (Logger, error) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}

	log := zerolog.New(output).Level(logLevel).With().Timestamp().Logger()

	return &logger{log: log}, nil
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}

	return os.Getppid() == 1
}

// Debug logs a debug message
func (l *logger) Debug() *LogEvent {
	return &LogEvent{l.log.Debug()}
}

// Info logs an info message
func (l *logger) Info() *LogEvent {
	return &LogEvent{l.log.Info()}
}

// Warn logs a warning message
func (l *logger) Warn() *LogEvent {
	return &LogEvent{l.log.Warn()}
}

// Error logs an error message
func (l *logger) Error() *LogEvent {
	return &LogEvent{l.log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func (l *logger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{l.log.Error().
		Str("error_code", string(err.Code())).
		AnErr("error", err.Unwrap())}
}

// Fatal logs a fatal message and exits the program
func (l *logger) Fatal() *LogEvent {
	return &LogEvent{l.log.Fatal()}
}

// With returns a child logger tagged with the given component name.
func (l *logger) With(component string) Logger {
	return &logger{log: l.log.With().Str("component", component).Logger()}
}

// New creates a logger writing structured JSON lines to w.
func New(w io.Writer, level string) (Logger, error) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}

	return &logger{log: zerolog.New(w).Level(logLevel).With().Timestamp().Logger()}, nil
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() Logger {
	return &logger{log: zerolog.Nop()}
}
