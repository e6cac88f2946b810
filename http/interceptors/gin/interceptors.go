// Package gin provides the gin middlewares opening a diagnostic scope per request and
// logging every request and response inside it.
package gin

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

const (
	httpHandlerOp = "http.handler"
	componentName = "gin"
)

type interceptorCfg struct {
	TracingEnabled     bool
	CorrelationEnabled bool
	LoggingEnabled     bool
	CompressionLevel   int
	HTTPTrace          bool
	Timeout            time.Duration
	MDC                *mdc.MDC
	UserResolver       scope.UserResolver
}

type InterceptorOpt func(cfg *interceptorCfg)

// WithCorrelationEnabled enables/disables the per request diagnostic scope. Default is enabled.
func WithCorrelationEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.CorrelationEnabled = enabled
	}
}

// WithMDC opens request scopes on m instead of mdc.Default.
func WithMDC(m *mdc.MDC) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.MDC = m
	}
}

// WithUserResolver sets how the authenticated user of a request is found.
func WithUserResolver(resolver scope.UserResolver) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.UserResolver = resolver
	}
}

// WithTimeout sets the http handler timeout. Default is 1 minute.
func WithTimeout(timeout time.Duration) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.Timeout = timeout
	}
}

// WithTracingEnabled enables/disables tracing. Default is enabled.
func WithTracingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.TracingEnabled = enabled
	}
}

// WithRequestLogging enables/disables the [req] and [res] lines. Default is enabled.
// Failed requests are logged regardless.
func WithRequestLogging(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.LoggingEnabled = enabled
	}
}

// WithHTTPTrace enables deeper http debugging by also printing the whole request and response body
func WithHTTPTrace() InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.LoggingEnabled = true
		cfg.HTTPTrace = true
	}
}

// WithCompressionLevel specifies the gzip compression level, default is gzip.DefaultCompression.
// Disable by using gzip.NoCompression.
func WithCompressionLevel(level int) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.CompressionLevel = level
	}
}

// DefaultInterceptors returns all our default interceptors for Gin servers.
// Defaults can be changed by passing any of the WithXXX options.
func DefaultInterceptors(opts ...InterceptorOpt) []gin.HandlerFunc {
	cfg := &interceptorCfg{
		TracingEnabled:     true,
		CorrelationEnabled: true,
		LoggingEnabled:     true,
		CompressionLevel:   gzip.DefaultCompression,
		Timeout:            time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	var middlewares []gin.HandlerFunc
	if cfg.TracingEnabled {
		middlewares = append(middlewares, TracingMiddleware)
	}
	// the scope wraps everything below so request, response and failure lines carry it
	if cfg.CorrelationEnabled {
		middlewares = append(middlewares, RequestContextMiddleware(cfg.MDC, cfg.UserResolver))
	}
	if cfg.LoggingEnabled {
		middlewares = append(middlewares, RequestLogging(loggingCfg{
			trace:   cfg.HTTPTrace,
			timeout: cfg.Timeout,
		}))
	}
	middlewares = append(middlewares, PanicRecoveryMiddleware, ErrorHandlingMiddleware)
	if cfg.CompressionLevel != gzip.NoCompression {
		middlewares = append(middlewares, gzip.Gzip(cfg.CompressionLevel))
	}
	middlewares = append(middlewares, TimeoutMiddleware(cfg.Timeout))

	return middlewares
}
