package logger

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rainbow-me/platform-mdc/common/mdc"
)

// Mixin returns fields merged into a record at the moment it is written.
type Mixin func(ctx context.Context) []Field

// Logger wraps a zap logger with a bound context and a list of mixins.
// Each call runs the mixins against the bound context, so the record carries
// whatever the diagnostic scope holds at that moment.
type Logger struct {
	zap    *zap.Logger
	ctx    context.Context
	mixins []Mixin
}

// NewLogger wraps z with the default mixins: the scope of mdc.Default and the active trace.
func NewLogger(z *zap.Logger) *Logger {
	return NewLoggerWithMixins(z, MDCMixin(mdc.Default), TraceMixin)
}

// NewLoggerWithMixins wraps z with the given mixins only.
func NewLoggerWithMixins(z *zap.Logger, mixins ...Mixin) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		// Debug/Info/... -> log -> zap.Check
		zap:    z.WithOptions(zap.AddCallerSkip(2)),
		ctx:    context.Background(),
		mixins: mixins,
	}
}

// New builds a zap logger from cfg and wraps it with the default mixins.
func New(cfg Config, zapOpts ...zap.Option) (*Logger, error) {
	z, err := InitLogger(cfg, zapOpts...)
	if err != nil {
		return nil, err
	}
	return NewLogger(z), nil
}

func (l *Logger) clone() *Logger {
	c := *l
	return &c
}

// WithContext returns a logger reading the diagnostic scope and trace from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil || ctx == l.ctx {
		return l
	}
	c := l.clone()
	c.ctx = ctx
	return c
}

// WithMixins returns a logger running mixins in addition to the current ones.
func (l *Logger) WithMixins(mixins ...Mixin) *Logger {
	c := l.clone()
	c.mixins = append(append([]Mixin(nil), l.mixins...), mixins...)
	return c
}

// With returns a logger with static fields added to every record.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	c := l.clone()
	c.zap = l.zap.With(fields...)
	return c
}

// Named binds the component name, written under the "logger" key.
func (l *Logger) Named(name string) *Logger {
	c := l.clone()
	c.zap = l.zap.Named(name)
	return c
}

// Component is the per-module static binding, e.g. Instance().Component("kafka").
func (l *Logger) Component(name string) *Logger {
	return l.Named(name)
}

// Context returns the context the logger reads from.
func (l *Logger) Context() context.Context {
	return l.ctx
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(zapcore.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(zapcore.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(zapcore.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(zapcore.ErrorLevel, msg, fields) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.log(zapcore.FatalLevel, msg, fields) }

// Log writes a record at an arbitrary level.
func (l *Logger) Log(level Level, msg string, fields ...Field) {
	l.log(zapcore.Level(level), msg, fields)
}

// Enabled reports whether records at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l.zap.Core().Enabled(zapcore.Level(level))
}

func (l *Logger) log(level zapcore.Level, msg string, fields []Field) {
	ce := l.zap.Check(level, msg)
	if ce == nil {
		return
	}
	if len(l.mixins) > 0 {
		mixed := make([]Field, 0, len(fields)+8)
		for _, mixin := range l.mixins {
			mixed = append(mixed, mixin(l.ctx)...)
		}
		fields = append(mixed, fields...)
	}
	ce.Write(fields...)
}

// Zap exposes the underlying logger, without mixins.
func (l *Logger) Zap() *zap.Logger {
	return l.zap.WithOptions(zap.AddCallerSkip(-2))
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

var global atomic.Pointer[Logger]

// Instance returns the process wide logger. It is built from the environment on first use
// unless SetInstance was called before.
func Instance() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := New(ConfigFromEnv())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger, logging is disabled: %v\n", err)
		l = NewLogger(zap.NewNop())
	}
	if global.CompareAndSwap(nil, l) {
		return l
	}
	return global.Load()
}

// SetInstance replaces the process wide logger.
func SetInstance(l *Logger) {
	global.Store(l)
}
