package interceptors_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/grpc/interceptors"
)

func TestGetServiceAndMethod(t *testing.T) {
	service, method := interceptors.GetServiceAndMethod("/rainbow.orders.Orders/Get")
	assert.Equal(t, "rainbow.orders.Orders", service)
	assert.Equal(t, "Get", method)

	service, method = interceptors.GetServiceAndMethod("garbage")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "garbage", method)
}

func TestUnaryContextStatusInterceptor(t *testing.T) {
	interceptor := interceptors.UnaryContextStatusInterceptor()
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "deadline", err: errors.Wrap(context.DeadlineExceeded, "query orders"), code: codes.DeadlineExceeded},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "status is kept", err: status.Error(codes.NotFound, "missing"), code: codes.NotFound},
		{name: "other", err: errors.New("boom"), code: codes.Unknown},
		{name: "ok", err: nil, code: codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{},
				func(context.Context, any) (any, error) { return nil, tt.err })
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func outgoingCorrelation(t *testing.T, ctx context.Context) []string {
	t.Helper()
	var got []string
	err := interceptors.UnaryCorrelationClientInterceptor(ctx, "/svc/M", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			md, _ := metadata.FromOutgoingContext(ctx)
			got = md.Get("x-correlation-id")
			return nil
		})
	require.NoError(t, err)
	return got
}

func TestUnaryCorrelationClientInterceptor(t *testing.T) {
	t.Run("scope id", func(t *testing.T) {
		_ = mdc.Run(context.Background(), mdc.Fields{mdc.KeyCorrelationID: "abc", mdc.KeyRequestID: "r1"}, func(ctx context.Context) error {
			assert.Equal(t, []string{"abc"}, outgoingCorrelation(t, ctx))
			md, _ := metadata.FromOutgoingContext(ctx)
			assert.Empty(t, md.Get("x-request-id"))
			return nil
		})
	})

	t.Run("generated without scope", func(t *testing.T) {
		got := outgoingCorrelation(t, context.Background())
		require.Len(t, got, 1)
		assert.True(t, correlation.IsGenerated(got[0]))
	})

	t.Run("explicit metadata is kept", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(), "x-correlation-id", "explicit")
		assert.Equal(t, []string{"explicit"}, outgoingCorrelation(t, ctx))
	})
}

func TestGrpcMessageFieldPrunesMaskedPaths(t *testing.T) {
	msg := wrapperspb.String("4242")

	raw, err := json.Marshal(interceptors.GrpcMessageField("request", msg, nil).Interface)
	require.NoError(t, err)
	assert.JSONEq(t, `"4242"`, string(raw))

	mask := []fieldmaskpb.FieldMask{{Paths: []string{"value"}}}
	raw, err = json.Marshal(interceptors.GrpcMessageField("request", msg, mask).Interface)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "4242")
	assert.Equal(t, "4242", msg.GetValue(), "the logged message is a copy")
}
