// Package logging wraps zerolog the way the teacher's internal/logger
// package wraps it: one configured root Logger, component-scoped child
// loggers obtained via For, and thin leveled helpers so call sites never
// touch the zerolog API directly.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger's behavior.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	Pretty     bool
	Output     io.Writer // defaults to os.Stderr
	WithCaller bool
}

// Logger wraps a zerolog.Logger scoped to one component.
type Logger struct {
	z zerolog.Logger
}

// Component is the subset of Logger's surface a collaborator package
// needs; it lets dm accept a logger without importing zerolog.
type Component interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
	For(component string) Component
}

// New builds the root logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}

	return &Logger{z: ctx.Logger()}
}

// For returns a child logger tagged with component, e.g. "wal", "pager",
// "btree", matching the field the teacher's DbLogger/GrpcLogger attach.
func (l *Logger) For(component string) Component {
	return &Logger{z: l.z.With().Str("component", component).Logger()}
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (l *Logger) Debug(msg string, kv ...any) { fields(l.z.Debug(), kv).Msg(msg) }
func (l *Logger) Info(msg string, kv ...any)   { fields(l.z.Info(), kv).Msg(msg) }
func (l *Logger) Warn(msg string, kv ...any)   { fields(l.z.Warn(), kv).Msg(msg) }

func (l *Logger) Error(msg string, err error, kv ...any) {
	fields(l.z.Error().Err(err), kv).Msg(msg)
}

// Nop returns a logger that discards everything, for tests that need a
// Component but don't care about output.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}
