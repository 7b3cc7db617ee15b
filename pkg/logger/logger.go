// Package logger provides component-scoped structured logging on top of zerolog.
//
// Call sites name the component they log for ("whatsapp", "health", "bridge", ...)
// and optionally attach fields:
//
//	logger.InfoC("health", "Health check passed")
//	logger.WarnCF("dispatch", "Image send failed", map[string]interface{}{"index": 2})
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
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Options controls the process-wide logger.
type Options struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human readable console output instead of JSON lines
	Output io.Writer
}

// Init replaces the process-wide logger. Unknown levels fall back to info.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()

	mu.Lock()
	base = l
	mu.Unlock()
}

// Component returns a zerolog.Logger tagged with the component name. It is used to
// hand the process logger to libraries that accept a zerolog.Logger directly.
func Component(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}

func emit(e *zerolog.Event, component, msg string, fields map[string]interface{}) {
	if e == nil {
		return
	}
	e = e.Str("component", component)
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

func DebugC(component, msg string) { emit(current().Debug(), component, msg, nil) }
func InfoC(component, msg string)  { emit(current().Info(), component, msg, nil) }
func WarnC(component, msg string)  { emit(current().Warn(), component, msg, nil) }
func ErrorC(component, msg string) { emit(current().Error(), component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(current().Debug(), component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(current().Info(), component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(current().Warn(), component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(current().Error(), component, msg, fields)
}
