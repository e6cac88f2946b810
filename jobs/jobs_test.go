package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/test"
	"github.com/rainbow-me/platform-mdc/jobs"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue(t *testing.T) (*jobs.Queue, *clock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return jobs.NewQueue(client, "orders", jobs.WithClock(c.Now), jobs.WithBackoff(time.Second)), c
}

type orderPayload struct {
	OrderID string `json:"orderId"`
}

func TestJobContinuesCorrelationChain(t *testing.T) {
	m := mdc.New()
	logs := test.UseObservedLogger(t, m)
	q, _ := newQueue(t)
	ctx := context.Background()

	var enqueuedRequestID string
	err := m.Run(ctx, mdc.Fields{mdc.KeyCorrelationID: "abc", mdc.KeyRequestID: "req-http"}, func(ctx context.Context) error {
		enqueuedRequestID = m.RequestID(ctx)
		job, err := q.Add(ctx, "processOrder", orderPayload{OrderID: "o-1"})
		if err != nil {
			return err
		}
		assert.Equal(t, "abc", job.CorrelationID)
		return nil
	})
	require.NoError(t, err)

	type seen struct {
		correlationID, requestID, entrypoint, jobID, orderID string
	}
	var got seen
	w := jobs.NewWorker(q, jobs.WithMDC(m))
	w.Handle("processOrder", func(ctx context.Context, job *jobs.Job) error {
		var p orderPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		m.Set(ctx, "orderId", p.OrderID)
		got = seen{
			correlationID: m.CorrelationID(ctx),
			requestID:     m.RequestID(ctx),
			entrypoint:    m.Entrypoint(ctx),
			jobID:         m.GetString(ctx, jobs.KeyJobID),
			orderID:       m.GetString(ctx, "orderId"),
		}
		logger.FromContext(ctx).Info("Processing order")
		return nil
	})

	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, "abc", got.correlationID)
	assert.Equal(t, "bull/order", got.entrypoint)
	assert.Equal(t, "o-1", got.orderID)
	assert.NotEmpty(t, got.jobID)
	assert.NotEmpty(t, got.requestID)
	assert.NotEqual(t, enqueuedRequestID, got.requestID)

	processing := logs.FilterMessage("Processing order").All()
	require.Len(t, processing, 1)
	assert.Equal(t, "abc", processing[0].ContextMap()[logger.CorrelationIDKey])
	assert.Equal(t, "bull/order", processing[0].ContextMap()[logger.EntrypointKey])

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	_, err = q.Get(ctx, got.jobID)
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestAddWithoutScopeGeneratesID(t *testing.T) {
	test.UseObservedLogger(t, nil)
	q, _ := newQueue(t)

	job, err := q.Add(context.Background(), "processOrder", orderPayload{OrderID: "o-2"})
	require.NoError(t, err)
	assert.True(t, correlation.IsGenerated(job.CorrelationID), job.CorrelationID)

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.CorrelationID, stored.CorrelationID)
	assert.JSONEq(t, `{"orderId":"o-2"}`, string(stored.Payload))
}

func TestDelayedJob(t *testing.T) {
	test.UseObservedLogger(t, nil)
	q, c := newQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "processOrder", orderPayload{OrderID: "o-3"}, jobs.WithDelay(5*time.Second))
	require.NoError(t, err)

	ran := 0
	w := jobs.NewWorker(q)
	w.Handle("processOrder", func(context.Context, *jobs.Job) error {
		ran++
		return nil
	})

	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.Advance(5 * time.Second)
	n, err = w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ran)
}

func TestFailedJobIsRetriedThenFailed(t *testing.T) {
	m := mdc.New()
	logs := test.UseObservedLogger(t, m)
	q, c := newQueue(t)
	ctx := context.Background()

	err := m.Run(ctx, mdc.Fields{mdc.KeyCorrelationID: "retry"}, func(ctx context.Context) error {
		_, err := q.Add(ctx, "processOrder", orderPayload{OrderID: "o-4"}, jobs.WithAttempts(2))
		return err
	})
	require.NoError(t, err)

	w := jobs.NewWorker(q, jobs.WithMDC(m))
	w.Handle("processOrder", func(context.Context, *jobs.Job) error {
		return errors.New("payment service unavailable")
	})

	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "rescheduled")

	n, err = w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "backoff not elapsed")

	c.Advance(time.Second)
	n, err = w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.Equal(t, "payment service unavailable", failed[0].LastError)
	assert.Equal(t, "retry", failed[0].CorrelationID)

	failures := logs.FilterMessage("Job failed").All()
	require.Len(t, failures, 2)
	assert.Equal(t, zapcore.WarnLevel, failures[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, failures[1].Level)
	for _, e := range failures {
		assert.Equal(t, "retry", e.ContextMap()[logger.CorrelationIDKey])
	}
}

func TestUnknownJobAndPanic(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	q, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "unknown", nil, jobs.WithAttempts(1))
	require.NoError(t, err)
	_, err = q.Add(ctx, "explode", nil, jobs.WithAttempts(1))
	require.NoError(t, err)

	w := jobs.NewWorker(q, jobs.WithConcurrency(2))
	w.Handle("explode", func(context.Context, *jobs.Job) error {
		panic("boom")
	})

	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	panics := logs.FilterMessage("recovered from panic in job handler").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "boom", panics[0].ContextMap()[logger.PanicValueKey])
}

func TestWorkerRun(t *testing.T) {
	test.UseObservedLogger(t, nil)
	q, _ := newQueue(t)

	done := make(chan string, 1)
	w := jobs.NewWorker(q, jobs.WithPollInterval(10*time.Millisecond))
	w.Handle("processOrder", func(ctx context.Context, job *jobs.Job) error {
		done <- mdc.CorrelationID(ctx)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- w.Run(ctx) }()

	job, err := q.Add(context.Background(), "processOrder", orderPayload{OrderID: "o-5"})
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, job.CorrelationID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	cancel()
	require.NoError(t, <-result)
}

func TestCancelledJobsAreReleased(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	q, _ := newQueue(t)

	first, err := q.Add(context.Background(), "processOrder", orderPayload{OrderID: "o-6"})
	require.NoError(t, err)
	second, err := q.Add(context.Background(), "processOrder", orderPayload{OrderID: "o-7"})
	require.NoError(t, err)

	started := make(chan struct{}, 2)
	w := jobs.NewWorker(q)
	w.Handle("processOrder", func(ctx context.Context, _ *jobs.Job) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	n, _ := w.ProcessDue(ctx)
	assert.Equal(t, 2, n)
	assert.Len(t, started, 0, "second job must not start after cancellation")

	background := context.Background()
	pending, err := q.Pending(background)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	failed, err := q.Failed(background)
	require.NoError(t, err)
	assert.Empty(t, failed)

	for _, id := range []string{first.ID, second.ID} {
		job, err := q.Get(background, id)
		require.NoError(t, err)
		assert.Zero(t, job.Attempts, "cancellation does not spend an attempt")
	}
	assert.Len(t, logs.FilterMessage("Job released").All(), 2)
	assert.Empty(t, logs.FilterMessage("Job failed").All())
}
