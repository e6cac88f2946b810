package resty

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

const (
	httpRequestOp      = "http.request"
	restyComponentName = "resty"
)

type interceptorCfg struct {
	TracingEnabled     bool
	CorrelationEnabled bool
	LoggingEnabled     bool
	// no timeout specified, that is handled by the underlying http client config
}

type InterceptorOpt func(*interceptorCfg)

// WithCorrelationEnabled enables/disables correlation. Default is enabled.
func WithCorrelationEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.CorrelationEnabled = enabled
	}
}

// WithTracingEnabled enables/disables tracing. Default is enabled.
func WithTracingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.TracingEnabled = enabled
	}
}

// WithLoggingEnabled enables/disables the outbound request and response lines. Default is enabled.
func WithLoggingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.LoggingEnabled = enabled
	}
}

// InjectInterceptors injects all interceptors required to get Resty requests to propagate traces and correlation info.
// Default behaviour can be changed by passing any of the WithXXX options.
func InjectInterceptors(client *resty.Client, opts ...InterceptorOpt) {
	cfg := &interceptorCfg{
		TracingEnabled:     true,
		CorrelationEnabled: true,
		LoggingEnabled:     true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.TracingEnabled {
		before, after, onError := TracingMiddleware()
		client.OnBeforeRequest(before)
		client.OnAfterResponse(after)
		client.OnError(onError)
	}
	if cfg.CorrelationEnabled {
		client.OnBeforeRequest(CorrelationMiddleware())
	}
	if cfg.LoggingEnabled {
		before, after, onError := LoggingMiddleware()
		client.OnBeforeRequest(before)
		client.OnAfterResponse(after)
		client.OnError(onError)
	}
}

// TracingMiddleware propagates traces from context to http headers.
// Also, creates a new span and tags it with the http method, url, status code etc.
func TracingMiddleware() (resty.RequestMiddleware, resty.ResponseMiddleware, resty.ErrorHook) {
	beforeRequest := func(c *resty.Client, req *resty.Request) error {
		fullURL := requestURL(c, req)
		opts := []tracer.StartSpanOption{
			tracer.SpanType(ext.SpanTypeHTTP),
			tracer.Tag(ext.HTTPMethod, req.Method),
			tracer.Tag(ext.HTTPURL, fullURL),
			tracer.Tag(ext.Component, restyComponentName),
			tracer.Tag(ext.SpanKind, ext.SpanKindClient),
		}
		if parsedURL, err := url.Parse(fullURL); err == nil {
			opts = append(opts, tracer.Tag(ext.NetworkDestinationName, parsedURL.Hostname()))
			opts = append(opts, tracer.Tag("http.host", parsedURL.Host))
			opts = append(opts, tracer.Tag("http.path", parsedURL.Path))
		}

		span, ctx := tracer.StartSpanFromContext(req.Context(), httpRequestOp, opts...)
		req.SetContext(ctx)
		if id := correlation.FromContext(ctx); id != "" {
			span.SetTag(correlation.SpanTag, id)
		}

		if err := tracer.Inject(span.Context(), tracer.HTTPHeadersCarrier(req.Header)); err != nil {
			// this should never happen
			logger.FromContext(ctx).Warn("failed to inject trace header", logger.Error(err))
		}
		return nil
	}

	afterResponse := func(_ *resty.Client, resp *resty.Response) error {
		span, ok := tracer.SpanFromContext(resp.Request.Context())
		if !ok {
			return nil // No span found, skip
		}
		span.SetTag(ext.HTTPCode, resp.StatusCode())
		span.SetTag("http.response_size", len(resp.Body()))

		if resp.StatusCode() >= 400 {
			span.SetTag(ext.Error, true)
			span.SetTag(ext.ErrorMsg, fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Status()))
		}
		span.Finish()

		return nil
	}

	onError := func(req *resty.Request, err error) {
		if hadResponse(err) {
			// finished by afterResponse
			return
		}
		span, ok := tracer.SpanFromContext(req.Context())
		if !ok {
			return
		}
		span.Finish(tracer.WithError(err))
	}

	return beforeRequest, afterResponse, onError
}

// CorrelationMiddleware stamps the correlation id of the active scope on the request, or a new one
// when there is no scope. A header set on the request by the caller is kept. The request id is
// never propagated.
func CorrelationMiddleware() resty.RequestMiddleware {
	return func(_ *resty.Client, req *resty.Request) error {
		if req.Header.Get(headers.HeaderXCorrelationID) == "" {
			req.SetHeader(headers.HeaderXCorrelationID, correlation.FromContextOrNew(req.Context()))
		}
		return nil
	}
}

// LoggingMiddleware writes a line before every request and one once it completed or failed.
// Responses with a status of 500 or more, and failures without a response, are logged as errors.
func LoggingMiddleware() (resty.RequestMiddleware, resty.ResponseMiddleware, resty.ErrorHook) {
	beforeRequest := func(c *resty.Client, req *resty.Request) error {
		interceptors.LogOutboundRequest(componentLogger(req), interceptors.Outbound{
			Method: req.Method,
			URL:    requestURL(c, req),
			Header: req.Header,
		})
		return nil
	}

	afterResponse := func(c *resty.Client, resp *resty.Response) error {
		req := resp.Request
		o := outbound(c, req)
		o.BytesRead = int64(len(resp.Body()))
		interceptors.LogOutboundResponse(componentLogger(req), o, resp.StatusCode(), resp.Time(), nil)
		return nil
	}

	onError := func(req *resty.Request, err error) {
		if hadResponse(err) {
			// the response line was already written by afterResponse
			return
		}
		var elapsed time.Duration
		if !req.Time.IsZero() {
			elapsed = time.Since(req.Time)
		}
		interceptors.LogOutboundResponse(componentLogger(req), outbound(nil, req), 0, elapsed, err)
	}

	return beforeRequest, afterResponse, onError
}

// hadResponse reports whether err was raised after a response was received, in which case the
// response middlewares already ran.
func hadResponse(err error) bool {
	var respErr *resty.ResponseError
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.RawResponse != nil
}

func componentLogger(req *resty.Request) *logger.Logger {
	return logger.FromContext(req.Context()).Named(restyComponentName)
}

func outbound(c *resty.Client, req *resty.Request) interceptors.Outbound {
	o := interceptors.Outbound{
		Method:       req.Method,
		URL:          requestURL(c, req),
		Header:       req.Header,
		BytesWritten: -1,
		BytesRead:    -1,
	}
	if req.RawRequest != nil && req.RawRequest.ContentLength >= 0 {
		o.BytesWritten = req.RawRequest.ContentLength
	}
	return o
}

// requestURL is the absolute URL of req. User middlewares run before resty resolves the
// request URL against the client base URL, so it is resolved here in that case.
func requestURL(c *resty.Client, req *resty.Request) string {
	if req.RawRequest != nil && req.RawRequest.URL != nil {
		return req.RawRequest.URL.String()
	}
	if u, err := url.Parse(req.URL); err == nil && u.IsAbs() {
		return req.URL
	}
	if c == nil || c.BaseURL == "" {
		return req.URL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(req.URL, "/")
}
