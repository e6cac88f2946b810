// Package jobs is a small Redis-backed delayed job queue. A job carries the correlation id of the
// scope that enqueued it, and the worker runs it in a new scope continuing that chain.
//
// Layout for a queue named q:
//
//	q:jobs     hash, job id -> JSON encoded Job
//	q:delayed  sorted set of job ids scored by their due time in unix milliseconds
//	q:failed   list of JSON encoded jobs that exhausted their attempts
package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/logger"
)

const (
	componentName = "jobs"

	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

// Job is one unit of deferred work.
type Job struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	RunAt         time.Time       `json:"runAt"`
	LastError     string          `json:"lastError,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return errors.Wrapf(err, "decode payload of job %s", j.ID)
	}
	return nil
}

// AddOption customizes an enqueued job.
type AddOption func(*Job)

// WithDelay postpones the job by d.
func WithDelay(d time.Duration) AddOption {
	return func(j *Job) {
		j.RunAt = j.RunAt.Add(d)
	}
}

// WithAttempts sets how many times the job runs before it is moved to the failed list.
func WithAttempts(n int) AddOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Queue stores jobs in Redis.
type Queue struct {
	client  redis.Cmdable
	name    string
	backoff time.Duration
	now     func() time.Time
}

type QueueOption func(*Queue)

// WithBackoff sets the base delay before a failed job is retried. The n-th retry waits n times d.
func WithBackoff(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.backoff = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

func NewQueue(client redis.Cmdable, name string, opts ...QueueOption) *Queue {
	q := &Queue{
		client:  client,
		name:    name,
		backoff: DefaultBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) jobsKey() string    { return q.name + ":jobs" }
func (q *Queue) delayedKey() string { return q.name + ":delayed" }
func (q *Queue) failedKey() string  { return q.name + ":failed" }

// Add enqueues a job. Its correlation id is the one of the active scope, or a new one.
func (q *Queue) Add(ctx context.Context, name string, payload any, opts ...AddOption) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal payload of %s", name)
	}
	job := &Job{
		ID:            uuid.NewString(),
		Name:          name,
		Payload:       raw,
		CorrelationID: correlation.FromContextOrNew(ctx),
		MaxAttempts:   DefaultMaxAttempts,
		RunAt:         q.now(),
	}
	for _, opt := range opts {
		opt(job)
	}
	if err = q.schedule(ctx, job); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Named(componentName).Info("Job added",
		logger.String("queue", q.name), logger.String("job", name), logger.String(KeyJobID, job.ID),
		logger.Duration("delay", job.RunAt.Sub(q.now())))
	return job, nil
}

func (q *Queue) schedule(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "marshal job %s", job.ID)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobsKey(), job.ID, raw)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
		return nil
	})
	return errors.Wrapf(err, "schedule job %s", job.ID)
}

// Get returns a pending job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.HGet(ctx, q.jobsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(ErrJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	job := &Job{}
	if err = json.Unmarshal(raw, job); err != nil {
		return nil, errors.Wrapf(err, "decode job %s", id)
	}
	return job, nil
}

// Pending is the number of jobs waiting to run.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	return n, errors.Wrap(err, "count pending jobs")
}

// Failed returns the jobs that exhausted their attempts, oldest first.
func (q *Queue) Failed(ctx context.Context) ([]*Job, error) {
	raws, err := q.client.LRange(ctx, q.failedKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list failed jobs")
	}
	jobs := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		job := &Job{}
		if err = json.Unmarshal([]byte(raw), job); err != nil {
			return nil, errors.Wrap(err, "decode failed job")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// claim returns up to limit due jobs, removing them from the schedule. A job id is only
// returned to the caller whose ZREM removed it, so concurrent workers never run it twice.
func (q *Queue) claim(ctx context.Context, limit int64) ([]*Job, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(q.now()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list due jobs")
	}

	// once removed from the schedule a job must reach the caller or go back
	held := context.WithoutCancel(ctx)
	var claimed []*Job
	for _, id := range ids {
		if ctx.Err() != nil {
			return claimed, ctx.Err()
		}
		removed, err := q.client.ZRem(held, q.delayedKey(), id).Result()
		if err != nil {
			return claimed, errors.Wrapf(err, "claim job %s", id)
		}
		if removed == 0 {
			continue
		}
		job, err := q.Get(held, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			rerr := q.client.ZAdd(held, q.delayedKey(), redis.Z{Score: float64(q.now().UnixMilli()), Member: id}).Err()
			return claimed, errors.CombineErrors(err, errors.Wrapf(rerr, "unclaim job %s", id))
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// release puts a claimed job back on the schedule, due now, with its attempts unchanged.
func (q *Queue) release(ctx context.Context, job *Job) error {
	job.RunAt = q.now()
	return q.schedule(ctx, job)
}

func (q *Queue) complete(ctx context.Context, job *Job) error {
	return errors.Wrapf(q.client.HDel(ctx, q.jobsKey(), job.ID).Err(), "complete job %s", job.ID)
}

// retry reschedules job after a failure, or moves it to the failed list. It reports whether the
// job will run again.
func (q *Queue) retry(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempts++
	job.LastError = cause.Error()
	if job.Attempts >= job.MaxAttempts {
		raw, err := json.Marshal(job)
		if err != nil {
			return false, errors.Wrapf(err, "marshal job %s", job.ID)
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, q.jobsKey(), job.ID)
			pipe.RPush(ctx, q.failedKey(), raw)
			return nil
		})
		return false, errors.Wrapf(err, "fail job %s", job.ID)
	}
	job.RunAt = q.now().Add(time.Duration(job.Attempts) * q.backoff)
	return true, q.schedule(ctx, job)
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
