package headers

import (
	"strings"
)

// Correlation Headers
const (
	// HeaderXCorrelationID carries the correlation id across HTTP and gRPC hops.
	// It is the only header stamped on outbound HTTP calls.
	HeaderXCorrelationID = "X-Correlation-Id"

	// HeaderXAmznTraceID is set by AWS load balancers and is used as correlation id
	// when the caller did not send one
	HeaderXAmznTraceID = "X-Amzn-Trace-Id"

	// MetadataXCorrelationID is the gRPC metadata key, gRPC requires lower case keys
	MetadataXCorrelationID = "x-correlation-id"
)

// Message Headers
const (
	// MessageCorrelationID is the canonical header/property name used on broker messages
	MessageCorrelationID = "correlationId"

	// MessageXCorrelationID is accepted on inbound messages only
	MessageXCorrelationID = "x-correlation-id"
)

// Client Identification Headers
const (
	// HeaderXClientID and HeaderXClientName identify the calling application
	HeaderXClientID   = "X-Client-Id"
	HeaderXClientName = "X-Client-Name"
)

// Proxy and CDN Headers
const (
	HeaderXForwardedProto = "X-Forwarded-Proto"
	HeaderXForwardedFor   = "X-Forwarded-For"
	HeaderXForwardedPort  = "X-Forwarded-Port"

	// HeaderCFConnectingIP and HeaderCFIPCountry are added by Cloudflare
	HeaderCFConnectingIP = "CF-Connecting-IP"
	HeaderCFIPCountry    = "CF-IPCountry"
)

// Standard Headers
const (
	HeaderReferer   = "Referer"
	HeaderUserAgent = "User-Agent"
)

// Getter reads a single header value. http.Header satisfies it.
type Getter interface {
	Get(key string) string
}

// GetterFunc adapts a lookup function to a Getter.
type GetterFunc func(key string) string

func (f GetterFunc) Get(key string) string {
	if f == nil {
		return ""
	}
	return f(key)
}

// Map is a case-insensitive Getter over string headers, used for broker message headers and properties.
type Map map[string]string

func (m Map) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// FirstNonEmpty returns the first non-empty value among names, in order.
func FirstNonEmpty(h Getter, names ...string) string {
	if h == nil {
		return ""
	}
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
