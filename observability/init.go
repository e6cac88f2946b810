// Package observability starts the Datadog tracer and opens spans tagged with the correlation id.
package observability

import (
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"

	"github.com/rainbow-me/platform-mdc/common/env"
	"github.com/rainbow-me/platform-mdc/common/logger"
)

type config struct {
	MetricsEnabled bool
	DebugStack     bool
	Version        string
}

type Option func(o *config)

// WithMetrics enables/disables collection of Go Runtime Metrics. Default enabled.
func WithMetrics(enabled bool) Option {
	return func(c *config) {
		c.MetricsEnabled = enabled
	}
}

// WithDebugStack enables/disables capture of stack traces when an error is set on a span. Default disabled.
func WithDebugStack(enabled bool) Option {
	return func(c *config) {
		c.DebugStack = enabled
	}
}

// WithVersion tags every span with the service version.
func WithVersion(version string) Option {
	return func(c *config) {
		c.Version = version
	}
}

// InitObservability starts the tracer. Tracer messages are written through log, named "ddtrace".
// The returned function stops the tracer and flushes pending spans.
func InitObservability(serviceName string, environment env.Environment, log *logger.Logger, opts ...Option) (stop func()) {
	cfg := &config{MetricsEnabled: true}
	for _, opt := range opts {
		opt(cfg)
	}
	tracerOpts := []tracer.StartOption{
		tracer.WithEnv(environment.String()),
		tracer.WithService(serviceName),
		tracer.WithLogger((*logger.Adapter)(log.Named("ddtrace"))),
		tracer.WithDebugStack(cfg.DebugStack),
	}
	if cfg.MetricsEnabled {
		tracerOpts = append(tracerOpts, tracer.WithRuntimeMetrics())
	}
	if cfg.Version != "" {
		tracerOpts = append(tracerOpts, tracer.WithServiceVersion(cfg.Version))
	}

	log.Info("starting tracer", logger.String("service", serviceName))
	if err := tracer.Start(tracerOpts...); err != nil {
		log.Error("failed to start tracer", logger.Error(err))
		return func() {}
	}
	return tracer.Stop
}
