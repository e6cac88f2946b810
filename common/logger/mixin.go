package logger

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"go.uber.org/zap"

	"github.com/rainbow-me/platform-mdc/common/mdc"
)

// Record keys written by MDCMixin.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	EntrypointKey    = "entrypoint"
	ClientInfoKey    = "clientinfo"
	UserKey          = "usr"
	MetaKey          = "meta"

	TraceIDKey    = "dd.trace_id"
	SpanIDKey     = "dd.span_id"
	PanicValueKey = "panic"
	PanicStackKey = "stack"
)

// MDCMixin writes the scope of m active in the logger's context. Nothing is written
// outside a scope.
func MDCMixin(m *mdc.MDC) Mixin {
	return func(ctx context.Context) []Field {
		snap := m.CopyOfStore(ctx)
		if snap == nil {
			return nil
		}
		fields := make([]Field, 0, 6)
		if v := snap.CorrelationID(); v != "" {
			fields = append(fields, zap.String(CorrelationIDKey, v))
		}
		if v := snap.RequestID(); v != "" {
			fields = append(fields, zap.String(RequestIDKey, v))
		}
		if v := snap.Entrypoint(); v != "" {
			fields = append(fields, zap.String(EntrypointKey, v))
		}
		if c, ok := snap.ClientInfo(); ok {
			fields = append(fields, zap.Object(ClientInfoKey, c))
		}
		if u, ok := snap.User(); ok {
			fields = append(fields, zap.Object(UserKey, u))
		}
		if meta := snap.Meta(); len(meta) > 0 {
			fields = append(fields, zap.Any(MetaKey, meta))
		}
		return fields
	}
}

// TraceMixin writes the ids of the span active in the logger's context.
func TraceMixin(ctx context.Context) []Field {
	span, ok := tracer.SpanFromContext(ctx)
	if !ok || span == nil {
		return nil
	}
	return WithTrace(span.Context())
}

// WithTrace returns the Datadog log correlation fields for sc.
func WithTrace(sc *tracer.SpanContext) []Field {
	if sc == nil {
		return nil
	}
	return []Field{
		zap.String(TraceIDKey, strconv.FormatUint(sc.TraceIDLower(), 10)),
		zap.String(SpanIDKey, strconv.FormatUint(sc.SpanID(), 10)),
	}
}

// WithPanic returns fields describing a recovered panic value and the current stack.
func WithPanic(r any) []Field {
	fields := []Field{
		zap.String(PanicValueKey, fmt.Sprintf("%+v", r)),
		zap.ByteString(PanicStackKey, debug.Stack()),
	}
	if err, ok := r.(error); ok {
		fields = append(fields, zap.Error(err))
	}
	return fields
}
