// Package fiber provides the fiber middlewares opening a diagnostic scope per request and
// logging every request and response inside it.
package fiber

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

const (
	componentName = "fiber"
	panicLocalKey = "platform-mdc/panic"
)

type middlewareCfg struct {
	LoggingEnabled bool
	Timeout        time.Duration
	MDC            *mdc.MDC
	UserResolver   scope.UserResolver
}

type MiddlewareOpt func(cfg *middlewareCfg)

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

// WithTimeout sets after how long a running request is reported. Default is 1 minute.
func WithTimeout(timeout time.Duration) MiddlewareOpt {
	return func(cfg *middlewareCfg) {
		cfg.Timeout = timeout
	}
}

// DefaultMiddlewares returns the middlewares to install with app.Use, in order.
func DefaultMiddlewares(opts ...MiddlewareOpt) []fiber.Handler {
	cfg := &middlewareCfg{
		LoggingEnabled: true,
		Timeout:        time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	middlewares := []fiber.Handler{RequestContext(cfg.MDC, cfg.UserResolver)}
	middlewares = append(middlewares, Logging(cfg.LoggingEnabled, cfg.Timeout))
	return append(middlewares, Recovery())
}

// RequestContext opens a diagnostic scope of m for every request and installs it as the
// request context. A nil m means mdc.Default.
func RequestContext(m *mdc.MDC, resolveUser scope.UserResolver) fiber.Handler {
	if m == nil {
		m = mdc.Default
	}
	return func(c fiber.Ctx) error {
		h := headers.GetterFunc(func(key string) string { return c.Get(key) })
		fields := scope.RequestFields(h, scope.EntrypointHTTP, resolveUser.Resolve(h))
		return m.Run(c.Context(), fields, func(ctx context.Context) error {
			correlation.TagSpan(ctx)
			c.SetContext(ctx)
			return c.Next()
		})
	}
}

// Logging writes the [req] and [res] lines of every request. Errors that would end as a 5xx are
// logged and answered with the generic body here, others are left to the app's error handler.
// With enabled false only failures are logged.
func Logging(enabled bool, timeout time.Duration) fiber.Handler {
	return func(c fiber.Ctx) error {
		log := logger.FromContext(c.Context()).Named(componentName)
		r, convErr := adaptor.ConvertRequest(c, true)
		if convErr != nil {
			log.Warn("failed to read request for logging", logger.Error(convErr))
			return c.Next()
		}
		r = r.WithContext(c.Context())

		start := time.Now()
		if enabled {
			interceptors.LogRequest(log, r)
		}
		stop := interceptors.WatchTimeout(log, r, timeout)
		err := c.Next()
		stop()

		status := c.Response().StatusCode()
		if err != nil {
			status = http.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		if !enabled && status < http.StatusInternalServerError {
			return err
		}

		fields := []logger.Field{logger.Int("response_size", len(c.Response().Body()))}
		if p, ok := c.Locals(panicLocalKey).([]logger.Field); ok {
			fields = append(fields, p...)
		}
		if status >= http.StatusInternalServerError && err != nil {
			interceptors.LogResponse(log, r, status, time.Since(start), err, fields...)
			return c.Status(status).JSON(interceptors.InternalServerErrorBody)
		}
		interceptors.LogResponse(log, r, status, time.Since(start), nil, fields...)
		return err
	}
}

// Recovery turns panics into errors, keeping the panic value and stack for the response line.
func Recovery() fiber.Handler {
	return recoverer.New(recoverer.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, r any) {
			c.Locals(panicLocalKey, logger.WithPanic(r))
		},
	})
}
