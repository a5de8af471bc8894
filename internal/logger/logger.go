package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process wide logger. Packages log through it directly or
// through a component logger obtained with Log.With.
var Log *Logger

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = &Logger{z: newZerolog(os.Stderr, "console")}
}

// Setup configures the global logger. level is one of debug, info, warn,
// error (case insensitive, anything else means info); format is json or
// console.
func Setup(level string, format string) {
	SetupWriter(level, format, os.Stderr)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(level, format string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Log = &Logger{z: newZerolog(w, format)}
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if strings.ToLower(format) == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}

// With returns a child logger carrying one extra field on every event.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

// Component is With("component", name).
func (l *Logger) Component(name string) *Logger {
	return &Logger{z: l.z.With().Str("component", name).Logger()}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	e := l.z.Info()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	e := l.z.Debug()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	e := l.z.Warn()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	e := l.z.Error()
	addFields(e, args...)
	e.Msg(msg)
}

// addFields turns alternating key/value args into event fields. error values
// are logged with zerolog's error field handling; a trailing key without a
// value is dropped.
func addFields(e *zerolog.Event, args ...interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		if err, ok := args[i+1].(error); ok {
			e.AnErr(key, err)
			continue
		}
		e.Interface(key, args[i+1])
	}
}
