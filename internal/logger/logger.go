// Package logger is a thin component-tagged facade over zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Fields carries structured key/values attached to a log line.
type Fields map[string]interface{}

// Setup configures the global logger. An empty or unknown level means info;
// pretty selects the human-readable console writer instead of JSON.
func Setup(level string, pretty bool) {
	SetOutput(os.Stderr, level, pretty)
}

// SetOutput is Setup with an explicit destination, used by tests.
func SetOutput(w io.Writer, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	mu.Lock()
	base = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}

func emit(ev *zerolog.Event, component, msg string, fields Fields) {
	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields))
	}
	ev.Msg(msg)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debug(component, msg string, fields Fields) {
	l := current()
	emit(l.Debug(), component, msg, fields)
}

func Info(component, msg string, fields Fields) {
	l := current()
	emit(l.Info(), component, msg, fields)
}

func Warn(component, msg string, fields Fields) {
	l := current()
	emit(l.Warn(), component, msg, fields)
}

func Error(component, msg string, fields Fields) {
	l := current()
	emit(l.Error(), component, msg, fields)
}

// Fatal logs and exits the process.
func Fatal(component, msg string, fields Fields) {
	l := current()
	emit(l.Fatal(), component, msg, fields)
}
