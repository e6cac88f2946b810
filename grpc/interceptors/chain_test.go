package interceptors_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/rainbow-me/platform-mdc/grpc/interceptors"
)

func TestChain(t *testing.T) {
	t.Run("Push", func(t *testing.T) {
		chain := interceptors.NewChain[string]()

		assert.True(t, chain.Push("a", "1"))
		assert.False(t, chain.Push("a", "1"))
		assert.True(t, chain.Push("b", "2"))
		assert.True(t, chain.Push("c", "3"))

		assert.Equal(t, []string{"1", "2", "3"}, chain.Items())
	})

	t.Run("InsertAfter", func(t *testing.T) {
		chain := interceptors.NewChain[string]()

		assert.True(t, chain.Push("a", "1"))
		assert.True(t, chain.Push("b", "2"))
		assert.True(t, chain.InsertAfter("a", "c", "3"))
		assert.False(t, chain.InsertAfter("missing", "d", "4"))

		assert.Equal(t, []string{"1", "3", "2"}, chain.Items())
	})

	t.Run("InsertBefore", func(t *testing.T) {
		chain := interceptors.NewChain[string]()

		assert.True(t, chain.Push("a", "1"))
		assert.True(t, chain.Push("b", "2"))
		assert.True(t, chain.InsertBefore("a", "c", "3"))
		assert.True(t, chain.InsertBefore("b", "d", "4"))
		assert.False(t, chain.InsertBefore("b", "d", "4"))

		assert.Equal(t, []string{"c", "a", "d", "b"}, chain.IDs())
		assert.Equal(t, []string{"3", "1", "4", "2"}, chain.Items())
	})

	t.Run("Replace", func(t *testing.T) {
		chain := interceptors.NewChain[string]()

		assert.True(t, chain.Push("a", "1"))
		assert.True(t, chain.Push("b", "2"))
		assert.True(t, chain.Replace("a", "2"))
		assert.False(t, chain.Replace("c", "3"))

		assert.Equal(t, []string{"2", "2"}, chain.Items())
	})

	t.Run("Delete", func(t *testing.T) {
		chain := interceptors.NewChain[string]()

		assert.True(t, chain.Push("a", "1"))
		assert.True(t, chain.Push("b", "2"))
		assert.True(t, chain.Push("c", "3"))
		assert.True(t, chain.Delete("b"))
		assert.False(t, chain.Delete("b"))
		assert.False(t, chain.Exists("b"))

		assert.Equal(t, []string{"1", "3"}, chain.Items())
	})
}

func TestCommitUnaryServer(t *testing.T) {
	var calls []string
	record := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			calls = append(calls, name)
			return handler(ctx, req)
		}
	}

	chain := interceptors.NewUnaryServerInterceptorChain()
	chain.Push("outer", record("outer"))
	chain.Push("inner", record("inner"))
	chain.InsertBefore("inner", "middle", record("middle"))

	resp, err := interceptors.CommitUnaryServer(chain)(context.Background(), "req", &grpc.UnaryServerInfo{},
		func(_ context.Context, req any) (any, error) {
			calls = append(calls, "handler")
			return req, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
	assert.Equal(t, []string{"outer", "middle", "inner", "handler"}, calls)
}
