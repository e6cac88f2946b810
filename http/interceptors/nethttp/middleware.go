// Package nethttp provides the net/http middlewares opening a diagnostic scope per request and
// logging every request and response inside it.
package nethttp

import (
	"compress/gzip"
	"context"
	"net/http"
	"time"

	httptrace "github.com/DataDog/dd-trace-go/contrib/net/http/v2"
	"github.com/gorilla/handlers"

	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

const componentName = "net/http"

type middlewareCfg struct {
	ServiceName      string
	TracingEnabled   bool
	LoggingEnabled   bool
	CompressionLevel int
	Timeout          time.Duration
	MDC              *mdc.MDC
	UserResolver     scope.UserResolver
	CORSOrigins      []string
}

type MiddlewareOpt func(cfg *middlewareCfg)

// WithTracing wraps the handler in a Datadog span named after service.
func WithTracing(service string) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.TracingEnabled = true
		cfg.ServiceName = service
	}
}

func WithMDC(m *mdc.MDC) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.MDC = m
	}
}

func WithUserResolver(resolver scope.UserResolver) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.UserResolver = resolver
	}
}

// WithRequestLogging enables/disables the [req] and [res] lines. Default is enabled.
func WithRequestLogging(enabled bool) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.LoggingEnabled = enabled
	}
}

// WithTimeout sets the request timeout. Default is 1 minute.
func WithTimeout(timeout time.Duration) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.Timeout = timeout
	}
}

// WithCompressionLevel sets the gzip level of responses, gzip.NoCompression disables it.
func WithCompressionLevel(level int) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.CompressionLevel = level
	}
}

// WithCORS allows cross origin requests from origins.
func WithCORS(origins ...string) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.CORSOrigins = origins
	}
}

// Middleware wraps next with the default middlewares, outermost first: tracing, CORS, request
// scope, logging, recovery, compression and timeout.
func Middleware(next http.Handler, opts ...MiddlewareOpt) http.Handler {
	cfg := &middlewareCfg{
		LoggingEnabled:   true,
		CompressionLevel: gzip.DefaultCompression,
		Timeout:          time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := Timeout(cfg.Timeout)(next)
	if cfg.CompressionLevel != gzip.NoCompression {
		h = handlers.CompressHandlerLevel(h, cfg.CompressionLevel)
	}
	h = Recovery(h)
	if cfg.LoggingEnabled {
		h = Logging(cfg.Timeout)(h)
	}
	h = RequestContext(cfg.MDC, cfg.UserResolver)(h)
	if len(cfg.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSOrigins),
			handlers.AllowedMethods([]string{
				http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
				http.MethodOptions, http.MethodHead, http.MethodPatch,
			}),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Correlation-Id", "X-Client-Id", "X-Client-Name"}),
			handlers.ExposedHeaders([]string{"X-Correlation-Id"}),
			handlers.OptionStatusCode(http.StatusNoContent),
		)(h)
	}
	if cfg.TracingEnabled {
		h = httptrace.WrapHandler(h, cfg.ServiceName, "")
	}
	return h
}

// Timeout sets a deadline on the request context
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
