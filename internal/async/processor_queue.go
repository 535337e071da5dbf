package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProcessorQueue is a bounded worker pool. Enqueue blocks when the buffer is
// full, which is the backpressure for directory walks. Job contexts derive
// from the queue context, so cancelling the parent or an interrupted
// Shutdown stops in-flight work.
type ProcessorQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithContext sets the parent of every job context.
func WithContext(ctx context.Context) Option {
	return func(q *ProcessorQueue) {
		if ctx != nil {
			q.parent = ctx
		}
	}
}

func NewProcessorQueue(handler Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		handler: handler,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 64),
		parent:  context.Background(),
	}
	for _, o := range opts {
		o(q)
	}
	q.ctx, q.cancel = context.WithCancel(q.parent)
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("async.worker.started", "worker_id", workerID)

				for job := range q.ch {
					if q.ctx.Err() != nil {
						q.logger.Debug("async.job.skipped", "worker_id", workerID, "path", job.Path)
						continue
					}
					start := time.Now()
					ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
					q.handler(ctx, job)
					cancel()
					q.logger.Debug("async.job.done",
						"worker_id", workerID,
						"path", job.Path,
						"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(),
						"elapsed_ms", time.Since(start).Milliseconds(),
					)
				}

				q.logger.Debug("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue hands job to a worker, waiting for buffer space or ctx.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("async.enqueue.closed", "path", job.Path)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		return nil
	default:
	}
	q.logger.Debug("async.enqueue.backpressure", "path", job.Path)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake and waits for queued jobs to drain. If ctx ends
// first, in-flight jobs are cancelled, remaining ones are skipped, and
// Shutdown still waits for the workers to exit.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("async.shutdown.interrupted", "error", ctx.Err())
		q.cancel()
		<-done
	case <-done:
		q.cancel()
		q.logger.Debug("async.shutdown.drained")
	}
}
