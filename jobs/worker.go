package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

// KeyJobID is the scope field holding the id of the running job.
const KeyJobID = "jobId"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNoHandler     = errors.New("no handler registered")
	errHandlerPanics = errors.New("job handler panicked")
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 16
)

// Handler runs one job within its diagnostic scope. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Worker polls a Queue and runs every due job in a new scope with the bull/order entrypoint and
// the correlation id the job was enqueued with.
type Worker struct {
	queue        *Queue
	handlers     map[string]Handler
	mdc          *mdc.MDC
	log          *logger.Logger
	pollInterval time.Duration
	batchSize    int64
	concurrency  int
}

type WorkerOption func(*Worker)

// WithMDC opens scopes in m instead of mdc.Default.
func WithMDC(m *mdc.MDC) WorkerOption {
	return func(w *Worker) {
		w.mdc = m
	}
}

func WithLogger(log *logger.Logger) WorkerOption {
	return func(w *Worker) {
		w.log = log
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.pollInterval = d
	}
}

// WithConcurrency sets how many jobs of a batch run at the same time. Default 1.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func NewWorker(queue *Queue, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        queue,
		handlers:     map[string]Handler{},
		mdc:          mdc.Default,
		log:          logger.Instance(),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		concurrency:  1,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.Named(componentName).With(logger.String("queue", queue.Name()))
	return w
}

// Handle registers the handler of the jobs called name.
func (w *Worker) Handle(name string, h Handler) {
	w.handlers[name] = h
}

// Run processes due jobs every poll interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ctx = w.mdc.Detach(ctx)
	w.log.WithContext(ctx).Info("Worker started", logger.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			w.log.WithContext(ctx).Warn("failed to process due jobs", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessDue runs the jobs due now, batch after batch, and returns how many ran. Failing jobs
// are counted too: only Redis errors are returned.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, claimErr := w.queue.claim(ctx, w.batchSize)
		if len(batch) == 0 {
			return total, claimErr
		}

		var g errgroup.Group
		g.SetLimit(w.concurrency)
		for _, job := range batch {
			g.Go(func() error {
				return w.process(ctx, job)
			})
		}
		total += len(batch)
		if err := g.Wait(); err != nil {
			return total, err
		}
		if claimErr != nil {
			return total, claimErr
		}
	}
}

// process runs job in its own scope then completes or retries it. Queue bookkeeping outlives
// ctx: a job interrupted by cancellation is released back to the schedule without spending an
// attempt.
func (w *Worker) process(ctx context.Context, job *Job) error {
	fields := scope.Fields(job.CorrelationID, scope.EntrypointJob)
	fields[KeyJobID] = job.ID
	return scope.Open(ctx, w.mdc, fields, func(ctx context.Context) error {
		bookkeeping := context.WithoutCancel(ctx)
		log := w.log.WithContext(ctx).With(
			logger.String("job", job.Name), logger.String(KeyJobID, job.ID), logger.Int("attempt", job.Attempts+1))

		if ctx.Err() != nil {
			log.Info("Job released", logger.String("reason", "cancelled before start"))
			return w.queue.release(bookkeeping, job)
		}
		log.Debug("Running job")

		start := time.Now()
		runErr := w.run(ctx, job)
		if runErr == nil {
			log.Debug("Job completed", logger.Duration("duration", time.Since(start)))
			return w.queue.complete(bookkeeping, job)
		}
		if ctx.Err() != nil {
			log.Info("Job released", logger.String("reason", "cancelled"), logger.Error(runErr))
			return w.queue.release(bookkeeping, job)
		}

		again, err := w.queue.retry(bookkeeping, job, runErr)
		if err != nil {
			return err
		}
		level := logger.WarnLevel
		if !again {
			level = logger.ErrorLevel
		}
		log.Log(level, "Job failed", logger.Error(runErr), logger.Bool("retrying", again),
			logger.Duration("duration", time.Since(start)))
		return nil
	})
}

func (w *Worker) run(ctx context.Context, job *Job) (err error) {
	h, ok := w.handlers[job.Name]
	if !ok {
		return errors.Wrapf(ErrNoHandler, "job %s", job.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.WithContext(ctx).Error("recovered from panic in job handler", logger.WithPanic(r)...)
			err = errHandlerPanics
		}
	}()
	return h(ctx, job)
}
