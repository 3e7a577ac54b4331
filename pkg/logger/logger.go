// Package logger wraps zerolog: JSON to stdout by default, a pretty
// ConsoleWriter when APP_ENV isn't "production". It additionally
// exposes the Info/Debug/Warn/Error/SetLevel surface that
// plugins.LoggingPlugin gates its event registrations on, mirroring
// broccoli's ConsoleLogger.setLevel.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance.
var Log zerolog.Logger

func init() {
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Level mirrors zerolog's levels so callers outside this package don't
// need to import zerolog just to gate on level.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger is the surface broccoli.Logger exposed: leveled, printf-style
// logging plus a settable minimum level, used by LoggingPlugin to decide
// which master events it bothers to subscribe to.
type Logger struct {
	z     zerolog.Logger
	level Level
}

// New wraps the given zerolog.Logger (by default, the global Log).
func New(z zerolog.Logger) *Logger {
	return &Logger{z: z, level: LevelInfo}
}

func Default() *Logger { return New(Log) }

func (l *Logger) Level() Level { return l.level }

// SetLevel sets the minimum level that will actually be written.
func (l *Logger) SetLevel(level Level) {
	l.level = level
	l.z = l.z.Level(level)
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]interface{})  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields map[string]interface{}) {
	ev := l.z.WithLevel(level)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
