package interceptors

import (
	"context"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

// IncomingMetadata exposes the incoming gRPC metadata of ctx as headers. Keys are matched case-insensitively.
func IncomingMetadata(ctx context.Context) headers.Getter {
	md, _ := metadata.FromIncomingContext(ctx)
	return headers.GetterFunc(func(key string) string {
		if values := md.Get(key); len(values) > 0 {
			return values[0]
		}
		return ""
	})
}

// RequestContextUnaryServerInterceptor runs every unary call in a new diagnostic scope of m,
// seeded from the x-correlation-id metadata. A nil m means mdc.Default.
func RequestContextUnaryServerInterceptor(m *mdc.MDC, resolveUser scope.UserResolver) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		var resp any
		md := IncomingMetadata(ctx)
		fields := scope.RequestFields(md, scope.EntrypointGRPC, resolveUser.Resolve(md))
		err := scope.Open(ctx, m, fields, func(ctx context.Context) error {
			correlation.TagSpan(ctx)
			var err error
			resp, err = handler(ctx, req)
			return err
		})
		return resp, err
	}
}

// RequestContextStreamServerInterceptor is the streaming counterpart of RequestContextUnaryServerInterceptor.
// The scope stays open until the handler returns.
func RequestContextStreamServerInterceptor(m *mdc.MDC, resolveUser scope.UserResolver) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		md := IncomingMetadata(ss.Context())
		fields := scope.RequestFields(md, scope.EntrypointGRPC, resolveUser.Resolve(md))
		return scope.Open(ss.Context(), m, fields, func(ctx context.Context) error {
			correlation.TagSpan(ctx)
			wrapped := grpcmiddleware.WrapServerStream(ss)
			wrapped.WrappedContext = ctx
			return handler(srv, wrapped)
		})
	}
}
