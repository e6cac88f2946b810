package http

import (
	"net/http"
	"time"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

const transportComponentName = "http.client"

// Transport is an http.RoundTripper stamping X-Correlation-Id on every request, and optionally
// writing the outbound request and response lines.
type Transport struct {
	base    http.RoundTripper
	logging bool
}

type TransportOpt func(*Transport)

// WithTransportLogging enables/disables the outbound lines. Default is enabled.
func WithTransportLogging(enabled bool) TransportOpt {
	return func(t *Transport) {
		t.logging = enabled
	}
}

// NewTransport wraps base, http.DefaultTransport when nil.
func NewTransport(base http.RoundTripper, opts ...TransportOpt) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{base: base, logging: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get(headers.HeaderXCorrelationID) == "" {
		// a RoundTripper must not modify the caller's request
		req = req.Clone(ctx)
		req.Header.Set(headers.HeaderXCorrelationID, correlation.FromContextOrNew(ctx))
	}
	if !t.logging {
		return t.base.RoundTrip(req)
	}

	log := logger.FromContext(ctx).Named(transportComponentName)
	o := interceptors.Outbound{
		Method:       req.Method,
		URL:          req.URL.String(),
		Header:       req.Header,
		BytesWritten: req.ContentLength,
		BytesRead:    -1,
	}
	if req.Body == nil || req.Body == http.NoBody {
		o.BytesWritten = 0
	}
	interceptors.LogOutboundRequest(log, o)

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		interceptors.LogOutboundResponse(log, o, 0, time.Since(start), err)
		return nil, err
	}
	o.BytesRead = resp.ContentLength
	interceptors.LogOutboundResponse(log, o, resp.StatusCode, time.Since(start), nil)
	return resp, nil
}
