package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediasearch/backend/internal/middleware"
	"mediasearch/backend/internal/syncjob"
)

// JobQueue is the part of syncjob.Queue a worker needs.
type JobQueue interface {
	Dequeue(ctx context.Context, queue string) (*syncjob.Job, error)
	Ack(ctx context.Context, j *syncjob.Job) error
	Fail(ctx context.Context, j *syncjob.Job, cause error) (syncjob.State, error)
	ReleaseStale(ctx context.Context, visibility time.Duration) (int, error)
}

// Worker pulls jobs from its queues one at a time. Exclusive ownership of a
// job comes from the queue's atomic claim, workers share no other state.
type Worker struct {
	id     string
	queue  JobQueue
	proc   Applier
	queues []string
	poll   time.Duration
	wake   chan struct{}
	logger *slog.Logger
}

func NewWorker(id string, queue JobQueue, proc Applier, queues []string, poll time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		proc:   proc,
		queues: queues,
		poll:   poll,
		wake:   make(chan struct{}, 1),
		logger: logger.With("worker", id),
	}
}

// Wake interrupts an idle poll wait. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RunOnce claims and applies at most one job, trying queues in order. It
// reports whether a job was processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	for _, name := range w.queues {
		j, err := w.queue.Dequeue(ctx, name)
		if err != nil {
			return false, err
		}
		if j == nil {
			continue
		}
		w.process(ctx, j)
		return true, nil
	}
	return false, nil
}

func (w *Worker) process(ctx context.Context, j *syncjob.Job) {
	ctx = middleware.WithJobID(ctx, j.ID)
	if j.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, j.CorrelationID)
	}

	start := time.Now()
	out := w.proc.Apply(ctx, j)

	if out.Success {
		if err := w.queue.Ack(ctx, j); err != nil {
			// the claim may have been released by the reaper; the job reruns harmlessly
			w.logger.WarnContext(ctx, "failed to ack sync job", "queue", j.Queue, "error", err)
			return
		}
		w.logger.InfoContext(ctx, "sync job completed",
			"queue", j.Queue, "entity_id", j.EntityID, "operation", j.Operation,
			"document_id", out.DocumentID, "skipped", out.Skipped, "duration", time.Since(start))
		return
	}

	state, err := w.queue.Fail(ctx, j, out.Err)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to record sync job failure", "queue", j.Queue, "error", err, "cause", out.Err)
		return
	}
	w.logger.DebugContext(ctx, "sync job failure recorded",
		"queue", j.Queue, "state", state, "error_class", out.ErrorClass, "attempts", j.Attempts)
}

// Run processes jobs until ctx is cancelled. When no job is ready it waits
// for the poll interval or an earlier wake-up.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "sync worker started", "queues", w.queues)
	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "sync worker stopped")
			return nil
		}

		processed, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "failed to dequeue sync job", "error", err)
		}
		if processed {
			continue
		}

		timer := time.NewTimer(w.poll)
		select {
		case <-ctx.Done():
		case <-w.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}
