package test

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
)

// NewLogger returns a logger that only prints if a test fails
func NewLogger(t *testing.T) *logger.Logger {
	return logger.NewLogger(zaptest.NewLogger(t))
}

// NewObservedLogger returns a logger recording every entry, enriched from the scopes of m.
// A nil m means mdc.Default.
func NewObservedLogger(m *mdc.MDC) (*logger.Logger, *observer.ObservedLogs) {
	if m == nil {
		m = mdc.Default
	}
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.NewLoggerWithMixins(zap.New(core), logger.MDCMixin(m), logger.TraceMixin), logs
}

// UseObservedLogger installs an observed logger as the process wide logger for the duration of t.
func UseObservedLogger(t *testing.T, m *mdc.MDC) *observer.ObservedLogs {
	t.Helper()
	previous := logger.Instance()
	l, logs := NewObservedLogger(m)
	logger.SetInstance(l)
	t.Cleanup(func() { logger.SetInstance(previous) })
	return logs
}
