package observability

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"

	"github.com/rainbow-me/platform-mdc/common/correlation"
)

// StartSpan starts a child span of the one in ctx, tagged with the correlation id of the active scope.
// Log records written with the returned context carry the span ids through the logger trace mixin.
func StartSpan(ctx context.Context, opName string, opts ...tracer.StartSpanOption) (*tracer.Span, context.Context) {
	if id := correlation.FromContext(ctx); id != "" {
		opts = append(opts, tracer.Tag(correlation.SpanTag, id))
	}
	return tracer.StartSpanFromContext(ctx, opName, opts...)
}
