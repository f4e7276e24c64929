package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bookie/internal/util"
)

// ErrQueueFull is returned by LocalQueue.Enqueue when the buffer is exhausted.
var ErrQueueFull = errors.New("queue full")

// LocalQueue runs jobs in-process. It is used when Redis is not configured;
// queued jobs are lost on restart.
type LocalQueue struct {
	jobs       chan JobStatus
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewLocalQueue(buffer, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *LocalQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalQueue{
		jobs:       make(chan JobStatus, buffer),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.With("queue", "local"),
	}
}

func (q *LocalQueue) Enqueue(_ context.Context, kind, key string) (JobStatus, error) {
	kind = strings.TrimSpace(kind)
	key = strings.TrimSpace(key)
	if kind == "" || key == "" {
		return JobStatus{}, errors.New("job kind and key required")
	}
	now := time.Now().UTC()
	job := JobStatus{ID: util.NewID(), Kind: kind, Key: key, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	select {
	case q.jobs <- job:
		return job, nil
	default:
		return JobStatus{}, ErrQueueFull
	}
}

func (q *LocalQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.run(ctx, job, handler)
				}
			}
		}()
	}
}

func (q *LocalQueue) run(ctx context.Context, job JobStatus, handler Handler) {
	for job.Attempts < q.maxRetries {
		job.Attempts++
		job.Status = StatusProcessing
		job.UpdatedAt = time.Now().UTC()
		err := handler(ctx, job)
		if err == nil {
			return
		}
		job.ErrorMessage = err.Error()
		if !sleepCtx(ctx, q.retryDelay) {
			return
		}
	}
	q.logger.Warn("queue_job_failed", "job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "err", job.ErrorMessage)
}
