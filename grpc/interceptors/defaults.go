// Package interceptors opens a diagnostic scope for every gRPC call a server receives and
// propagates the correlation id on every call a client makes.
package interceptors

import (
	"time"

	grpctrace "github.com/DataDog/dd-trace-go/contrib/google.golang.org/grpc/v2"

	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

// Chain ids, usable with InsertAfter/InsertBefore to customize a default chain.
const (
	ChainServerDeadline = "server-deadline"
	ChainTrace          = "trace"
	ChainRequestContext = "request-context"
	ChainLogger         = "logger"
	ChainPanicRecovery  = "panic-recovery"
	ChainContextStatus  = "context-status"
	ChainCorrelation    = "correlation"
)

// Config holds the options of the default chains.
type Config struct {
	ServiceName          string
	RequestTimeout       time.Duration
	TracingEnabled       bool
	PanicRecoveryEnabled bool
	MDC                  *mdc.MDC
	UserResolver         scope.UserResolver
	LoggingOptions       []LoggingInterceptorOption
}

type ConfigOption func(*Config)

// WithRequestTimeout sets the server-side deadline of unary calls. Zero disables it.
func WithRequestTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

func WithTracing(enabled bool) ConfigOption {
	return func(c *Config) {
		c.TracingEnabled = enabled
	}
}

func WithPanicRecovery(enabled bool) ConfigOption {
	return func(c *Config) {
		c.PanicRecoveryEnabled = enabled
	}
}

// WithMDC opens scopes in m instead of mdc.Default.
func WithMDC(m *mdc.MDC) ConfigOption {
	return func(c *Config) {
		c.MDC = m
	}
}

func WithUserResolver(resolver scope.UserResolver) ConfigOption {
	return func(c *Config) {
		c.UserResolver = resolver
	}
}

func WithLoggingOptions(opts ...LoggingInterceptorOption) ConfigOption {
	return func(c *Config) {
		c.LoggingOptions = append(c.LoggingOptions, opts...)
	}
}

// NewConfig returns the defaults: 30s deadline, tracing, panic recovery, health checks not logged.
func NewConfig(serviceName string, opts ...ConfigOption) *Config {
	cfg := &Config{
		ServiceName:          serviceName,
		RequestTimeout:       30 * time.Second,
		TracingEnabled:       true,
		PanicRecoveryEnabled: true,
		LoggingOptions: []LoggingInterceptorOption{
			WithSkippedLogsByMethods(healthCheckMethod, healthWatchMethod),
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewDefaultServerUnaryChain builds, outermost first: deadline, trace, request context, logger,
// panic recovery and context status. The logger runs inside the scope so its line carries the
// correlation id, and outside recovery so a panic is logged as an Internal response.
func NewDefaultServerUnaryChain(serviceName string, opts ...ConfigOption) *UnaryServerInterceptorChain {
	cfg := NewConfig(serviceName, opts...)
	chain := NewUnaryServerInterceptorChain()

	if cfg.RequestTimeout > 0 {
		chain.Push(ChainServerDeadline, ServerDeadlineInterceptor(cfg.RequestTimeout))
	}
	if cfg.TracingEnabled {
		chain.Push(ChainTrace, grpctrace.UnaryServerInterceptor(
			grpctrace.WithService(cfg.ServiceName),
			grpctrace.WithMetadataTags(),
			grpctrace.WithUntracedMethods(healthCheckMethod, healthWatchMethod),
		))
	}
	chain.Push(ChainRequestContext, RequestContextUnaryServerInterceptor(cfg.MDC, cfg.UserResolver))
	chain.Push(ChainLogger, UnaryLoggerServerInterceptor(cfg.LoggingOptions...))
	if cfg.PanicRecoveryEnabled {
		chain.Push(ChainPanicRecovery, UnaryPanicRecoveryServerInterceptor())
	}
	chain.Push(ChainContextStatus, UnaryContextStatusInterceptor())

	return chain
}

// NewDefaultServerStreamChain is the streaming counterpart of NewDefaultServerUnaryChain, without the deadline.
func NewDefaultServerStreamChain(serviceName string, opts ...ConfigOption) *StreamServerInterceptorChain {
	cfg := NewConfig(serviceName, opts...)
	chain := NewStreamServerInterceptorChain()

	if cfg.TracingEnabled {
		chain.Push(ChainTrace, grpctrace.StreamServerInterceptor(
			grpctrace.WithService(cfg.ServiceName),
			grpctrace.WithUntracedMethods(healthCheckMethod, healthWatchMethod),
		))
	}
	chain.Push(ChainRequestContext, RequestContextStreamServerInterceptor(cfg.MDC, cfg.UserResolver))
	chain.Push(ChainLogger, StreamLoggerServerInterceptor(cfg.LoggingOptions...))
	if cfg.PanicRecoveryEnabled {
		chain.Push(ChainPanicRecovery, StreamPanicRecoveryServerInterceptor())
	}

	return chain
}

// NewDefaultClientUnaryChain builds trace, correlation and logger interceptors for outgoing calls.
func NewDefaultClientUnaryChain(serviceName string, opts ...ConfigOption) *UnaryClientInterceptorChain {
	cfg := NewConfig(serviceName, opts...)
	chain := NewUnaryClientInterceptorChain()

	if cfg.TracingEnabled {
		chain.Push(ChainTrace, grpctrace.UnaryClientInterceptor(grpctrace.WithService(cfg.ServiceName)))
	}
	chain.Push(ChainCorrelation, UnaryCorrelationClientInterceptor)
	chain.Push(ChainLogger, UnaryLoggerClientInterceptor(cfg.LoggingOptions...))

	return chain
}

// NewDefaultClientStreamChain builds trace and correlation interceptors for outgoing streams.
func NewDefaultClientStreamChain(serviceName string, opts ...ConfigOption) *StreamClientInterceptorChain {
	cfg := NewConfig(serviceName, opts...)
	chain := NewStreamClientInterceptorChain()

	if cfg.TracingEnabled {
		chain.Push(ChainTrace, grpctrace.StreamClientInterceptor(grpctrace.WithService(cfg.ServiceName)))
	}
	chain.Push(ChainCorrelation, StreamCorrelationClientInterceptor)

	return chain
}
