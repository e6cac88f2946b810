package interceptors

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rainbow-me/platform-mdc/common/env"
	"github.com/rainbow-me/platform-mdc/common/logger"
)

// ErrInternal is what the client receives when a handler panics. Panic details stay in the logs.
var ErrInternal = status.Error(codes.Internal, "internal server error")

// UnaryPanicRecoveryServerInterceptor converts a handler panic into ErrInternal. The panic is
// logged with its stack through the scoped logger, so it carries the correlation id of the call.
func UnaryPanicRecoveryServerInterceptor() grpc.UnaryServerInterceptor {
	return grpcrecovery.UnaryServerInterceptor(grpcrecovery.WithRecoveryHandlerContext(recoverPanic))
}

// StreamPanicRecoveryServerInterceptor is the streaming counterpart of UnaryPanicRecoveryServerInterceptor.
func StreamPanicRecoveryServerInterceptor() grpc.StreamServerInterceptor {
	return grpcrecovery.StreamServerInterceptor(grpcrecovery.WithRecoveryHandlerContext(recoverPanic))
}

func recoverPanic(ctx context.Context, panicValue any) error {
	logger.FromContext(ctx).Named(componentName).
		Error("recovered from panic in gRPC handler", logger.WithPanic(panicValue)...)

	if span, ok := tracer.SpanFromContext(ctx); ok {
		span.SetTag(ext.Error, true)
		span.SetTag(ext.ErrorType, "panic")
		span.SetTag(ext.ErrorMsg, codes.Internal.String())
	}

	if env.IsLocalApplicationEnv() {
		// human-readable stack on the local console
		_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
	}
	return ErrInternal
}
