// Package scope holds the rules shared by every entrypoint that opens a diagnostic scope:
// where the correlation id comes from, which client identity headers are read, and which
// fields a new scope starts with.
package scope

import (
	"context"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/mdc"
)

// Entrypoints
const (
	EntrypointHTTP   = "http/api"
	EntrypointGRPC   = "grpc/api"
	EntrypointKafka  = "kafka/consumer"
	EntrypointRabbit = "rabbit/consumer"
	EntrypointPulsar = "pulsar/consumer"
	EntrypointJob    = "bull/order"
)

// HTTPCorrelationHeaders lists the request headers carrying a correlation id, by priority.
var HTTPCorrelationHeaders = []string{
	headers.HeaderXCorrelationID,
	headers.HeaderXAmznTraceID,
}

// MessageCorrelationHeaders lists the broker message headers carrying a correlation id, by priority.
var MessageCorrelationHeaders = []string{
	headers.MessageCorrelationID,
	headers.MessageXCorrelationID,
}

// UserResolver returns the principal already authenticated for a request, or nil.
// It only sees the request headers so every server adapter can share one resolver.
type UserResolver func(h headers.Getter) *mdc.User

// Resolve calls the resolver, tolerating a nil one.
func (f UserResolver) Resolve(h headers.Getter) *mdc.User {
	if f == nil || h == nil {
		return nil
	}
	return f(h)
}

// Fields builds the initial fields of a scope. A fresh request id is always generated.
func Fields(correlationID, entrypoint string) mdc.Fields {
	if correlationID == "" {
		correlationID = correlation.NewID()
	}
	return mdc.Fields{
		mdc.KeyCorrelationID: correlationID,
		mdc.KeyRequestID:     correlation.NewRequestID(),
		mdc.KeyEntrypoint:    entrypoint,
	}
}

// WithUser adds the resolved user, if any.
func WithUser(fields mdc.Fields, user *mdc.User) mdc.Fields {
	if user != nil && user.ID != "" {
		fields[mdc.KeyUser] = *user
	}
	return fields
}

// WithClientInfo adds client identity when at least one of the client headers is present.
func WithClientInfo(fields mdc.Fields, h headers.Getter) mdc.Fields {
	if h == nil {
		return fields
	}
	info := mdc.ClientInfo{
		ID:   h.Get(headers.HeaderXClientID),
		Name: h.Get(headers.HeaderXClientName),
	}
	if !info.IsZero() {
		fields[mdc.KeyClientInfo] = info
	}
	return fields
}

// RequestFields returns the initial fields for an HTTP or gRPC request.
func RequestFields(h headers.Getter, entrypoint string, user *mdc.User) mdc.Fields {
	fields := Fields(headers.FirstNonEmpty(h, HTTPCorrelationHeaders...), entrypoint)
	fields = WithClientInfo(fields, h)
	return WithUser(fields, user)
}

// MessageFields returns the initial fields for a consumed broker message. native is the
// transport's own correlation property (AMQP correlation_id), it wins over headers.
func MessageFields(h headers.Getter, native, entrypoint string) mdc.Fields {
	id := native
	if id == "" {
		id = headers.FirstNonEmpty(h, MessageCorrelationHeaders...)
	}
	return WithClientInfo(Fields(id, entrypoint), h)
}

// Open runs fn in a new scope of m with fields. A nil m means mdc.Default.
func Open(ctx context.Context, m *mdc.MDC, fields mdc.Fields, fn func(ctx context.Context) error) error {
	if m == nil {
		m = mdc.Default
	}
	return m.Run(ctx, fields, fn)
}
