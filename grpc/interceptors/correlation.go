package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
)

// withOutgoingCorrelation stamps the correlation id of the active scope, or a new one, unless
// the caller already set it explicitly. The request id is never propagated.
func withOutgoingCorrelation(ctx context.Context) context.Context {
	if md, ok := metadata.FromOutgoingContext(ctx); ok && len(md.Get(headers.MetadataXCorrelationID)) > 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, headers.MetadataXCorrelationID, correlation.FromContextOrNew(ctx))
}

// UnaryCorrelationClientInterceptor propagates the correlation id on outgoing unary calls.
func UnaryCorrelationClientInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withOutgoingCorrelation(ctx), method, req, reply, cc, opts...)
}

// StreamCorrelationClientInterceptor propagates the correlation id on outgoing streams.
func StreamCorrelationClientInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withOutgoingCorrelation(ctx), desc, cc, method, opts...)
}
