package mdc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rainbow-me/platform-mdc/common/mdc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRun(t *testing.T) {
	m := mdc.New()
	tests := []struct {
		name   string
		parent mdc.Fields
		fields mdc.Fields
		want   mdc.Snapshot
	}{
		{
			name:   "no parent",
			fields: mdc.Fields{mdc.KeyCorrelationID: "abc"},
			want:   mdc.Snapshot{mdc.KeyCorrelationID: "abc"},
		},
		{
			name:   "callee wins",
			parent: mdc.Fields{mdc.KeyCorrelationID: "abc", mdc.KeyEntrypoint: "http/api"},
			fields: mdc.Fields{mdc.KeyEntrypoint: "kafka/consumer"},
			want:   mdc.Snapshot{mdc.KeyCorrelationID: "abc", mdc.KeyEntrypoint: "kafka/consumer"},
		},
		{
			name:   "nested maps are merged",
			parent: mdc.Fields{mdc.KeyMeta: map[string]any{"a": 1, "b": 1}},
			fields: mdc.Fields{mdc.KeyMeta: map[string]any{"b": 2, "c": 3}},
			want:   mdc.Snapshot{mdc.KeyMeta: map[string]any{"a": 1, "b": 2, "c": 3}},
		},
		{
			name:   "identity records are merged",
			parent: mdc.Fields{mdc.KeyClientInfo: mdc.ClientInfo{ID: "web"}},
			fields: mdc.Fields{mdc.KeyClientInfo: mdc.ClientInfo{Name: "Web App"}},
			want:   mdc.Snapshot{mdc.KeyClientInfo: mdc.ClientInfo{ID: "web", Name: "Web App"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got mdc.Snapshot
			err := m.Run(context.Background(), tt.parent, func(ctx context.Context) error {
				if tt.parent == nil {
					ctx = m.Detach(ctx)
				}
				return m.Run(ctx, tt.fields, func(ctx context.Context) error {
					got = m.CopyOfStore(ctx)
					return nil
				})
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunRestoresParent(t *testing.T) {
	m := mdc.New()
	err := m.Run(context.Background(), mdc.Fields{"k": "outer"}, func(ctx context.Context) error {
		innerErr := m.Run(ctx, mdc.Fields{"k": "inner"}, func(ctx context.Context) error {
			assert.Equal(t, "inner", m.GetString(ctx, "k"))
			m.Set(ctx, "only-inner", true)
			return errors.New("boom")
		})
		require.EqualError(t, innerErr, "boom")

		assert.Equal(t, "outer", m.GetString(ctx, "k"))
		_, ok := m.Get(ctx, "only-inner")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestRunPropagatesPanic(t *testing.T) {
	m := mdc.New()
	var inner context.Context
	assert.PanicsWithValue(t, "boom", func() {
		_ = m.Run(context.Background(), mdc.Fields{"k": "v"}, func(ctx context.Context) error {
			inner = ctx
			panic("boom")
		})
	})
	assert.False(t, m.Active(inner))
	assert.False(t, m.Set(inner, "k", "other"))
	assert.Equal(t, "v", m.GetString(inner, "k"))
}

func TestSet(t *testing.T) {
	m := mdc.New()

	t.Run("without scope", func(t *testing.T) {
		ctx := context.Background()
		assert.False(t, m.Set(ctx, "k", "v"))
		_, ok := m.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("visible to goroutines already running", func(t *testing.T) {
		err := m.Run(context.Background(), nil, func(ctx context.Context) error {
			started := make(chan struct{})
			release := make(chan struct{})
			m.Go(ctx, func(ctx context.Context) {
				close(started)
				<-release
				assert.Equal(t, "42", m.GetString(ctx, "orderId"))
			})
			<-started
			m.Set(ctx, "orderId", "42")
			close(release)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("correlation id is immutable", func(t *testing.T) {
		err := m.Run(context.Background(), mdc.Fields{mdc.KeyCorrelationID: "first"}, func(ctx context.Context) error {
			assert.False(t, m.Set(ctx, mdc.KeyCorrelationID, "second"))
			assert.Equal(t, "first", m.CorrelationID(ctx))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("correlation id can be set once", func(t *testing.T) {
		err := m.Run(context.Background(), nil, func(ctx context.Context) error {
			assert.True(t, m.Set(ctx, mdc.KeyCorrelationID, "first"))
			assert.False(t, m.Set(ctx, mdc.KeyCorrelationID, "second"))
			assert.Equal(t, "first", m.CorrelationID(ctx))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("meta keys are merged", func(t *testing.T) {
		fields := mdc.Fields{mdc.KeyMeta: map[string]any{"a": 1}}
		err := m.Run(context.Background(), fields, func(ctx context.Context) error {
			m.SetMeta(ctx, "b", 2)
			m.SetMeta(ctx, "a", 3)
			assert.Equal(t, map[string]any{"a": 3, "b": 2}, m.Meta(ctx))
			return nil
		})
		require.NoError(t, err)
		// the caller's map is never mutated
		assert.Equal(t, map[string]any{"a": 1}, fields[mdc.KeyMeta])
	})
}

func TestSafeGet(t *testing.T) {
	m := mdc.New()
	ctx := context.Background()

	assert.Equal(t, "fallback", m.SafeGet(ctx, mdc.KeyCorrelationID, "fallback"))
	assert.Equal(t, "fallback", m.SafeGetString(ctx, mdc.KeyCorrelationID, "fallback"))
	assert.Equal(t, "fallback", m.SafeGetString(nil, mdc.KeyCorrelationID, "fallback")) //nolint:staticcheck
	assert.Nil(t, m.CopyOfStore(ctx))

	err := m.Run(ctx, mdc.Fields{mdc.KeyCorrelationID: "abc"}, func(ctx context.Context) error {
		assert.Equal(t, "abc", m.SafeGet(ctx, mdc.KeyCorrelationID, "fallback"))
		assert.Equal(t, "fallback", m.SafeGet(ctx, "missing", "fallback"))
		return nil
	})
	require.NoError(t, err)
}

func TestCopyOfStoreIsDetached(t *testing.T) {
	m := mdc.New()
	err := m.Run(context.Background(), mdc.Fields{mdc.KeyMeta: map[string]any{"a": 1}}, func(ctx context.Context) error {
		snap := m.CopyOfStore(ctx)
		snap.Meta()["a"] = 2
		snap["extra"] = true

		assert.Equal(t, map[string]any{"a": 1}, m.Meta(ctx))
		_, ok := m.Get(ctx, "extra")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestInstancesAreIsolated(t *testing.T) {
	a, b := mdc.New(), mdc.New()
	err := a.Run(context.Background(), mdc.Fields{"k": "a"}, func(ctx context.Context) error {
		assert.False(t, b.Active(ctx))
		_, ok := b.Get(ctx, "k")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

// Two scopes interleave through staggered suspension points and must never see each other's writes.
func TestInterleavedScopesAreIsolated(t *testing.T) {
	m := mdc.New()
	const rounds = 20

	var wg sync.WaitGroup
	step := func(name string, delay time.Duration) {
		defer wg.Done()
		err := m.Run(context.Background(), mdc.Fields{mdc.KeyCorrelationID: name}, func(ctx context.Context) error {
			for i := 0; i < rounds; i++ {
				m.Set(ctx, "owner", name)
				m.SetMeta(ctx, "round", i)
				time.Sleep(delay)
				assert.Equal(t, name, m.GetString(ctx, "owner"))
				assert.Equal(t, name, m.CorrelationID(ctx))
				assert.Equal(t, i, m.Meta(ctx)["round"])
			}
			return nil
		})
		assert.NoError(t, err)
	}

	wg.Add(2)
	go step("A", time.Millisecond)
	go step("B", 3*time.Millisecond/2)
	wg.Wait()
}

func TestRunWaitsForBoundGoroutines(t *testing.T) {
	m := mdc.New()
	var mu sync.Mutex
	var seen []string

	err := m.Run(context.Background(), mdc.Fields{mdc.KeyCorrelationID: "abc"}, func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			m.Go(ctx, func(ctx context.Context) {
				time.Sleep(5 * time.Millisecond)
				// nested spawn from a bound goroutine is also awaited
				m.Go(ctx, func(ctx context.Context) {
					time.Sleep(5 * time.Millisecond)
					mu.Lock()
					seen = append(seen, m.CorrelationID(ctx))
					mu.Unlock()
				})
			})
		}
		return nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"abc", "abc", "abc"}, seen)
}

func TestGoWithoutScope(t *testing.T) {
	m := mdc.New()
	done := make(chan bool)
	m.Go(context.Background(), func(ctx context.Context) {
		done <- m.Active(ctx)
	})
	assert.False(t, <-done)
}

func TestDetach(t *testing.T) {
	m := mdc.New()
	err := m.Run(context.Background(), mdc.Fields{"k": "v"}, func(ctx context.Context) error {
		detached := m.Detach(ctx)
		assert.False(t, m.Active(detached))
		assert.Empty(t, m.GetString(detached, "k"))
		assert.False(t, m.Set(detached, "k", "other"))
		assert.Equal(t, "v", m.GetString(ctx, "k"))
		return nil
	})
	require.NoError(t, err)
}

func TestTypedAccessors(t *testing.T) {
	fields := mdc.Fields{
		mdc.KeyCorrelationID: "1-1700000000000-0123456789abcdef0123456789abcdef",
		mdc.KeyRequestID:     "req",
		mdc.KeyEntrypoint:    "http/api",
		mdc.KeyUser:          mdc.User{ID: "7", Name: "Ada"},
		mdc.KeyClientInfo:    mdc.ClientInfo{},
	}
	err := mdc.Run(context.Background(), fields, func(ctx context.Context) error {
		assert.Equal(t, "req", mdc.RequestID(ctx))
		assert.Equal(t, "http/api", mdc.Entrypoint(ctx))

		u, ok := mdc.UserFrom(ctx)
		require.True(t, ok)
		assert.Equal(t, "Ada", u.Name)

		// empty client info is reported as absent
		_, ok = mdc.ClientInfoFrom(ctx)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	m := mdc.New()

	err := m.Run(context.Background(), mdc.Fields{mdc.KeyMeta: map[string]any{"start": 0}}, func(ctx context.Context) error {
		m.Go(ctx, func(ctx context.Context) {
			for i := 0; i < 100; i++ {
				m.SetMeta(ctx, "step", i)
			}
		})
		for i := 0; i < 100; i++ {
			v, ok := m.Get(ctx, mdc.KeyMeta)
			require.True(t, ok)
			for k, val := range v.(map[string]any) {
				_, _ = k, val
			}
		}

		v, _ := m.Get(ctx, mdc.KeyMeta)
		v.(map[string]any)["start"] = "changed"
		assert.Equal(t, 0, m.Meta(ctx)["start"])
		return nil
	})
	require.NoError(t, err)
}
