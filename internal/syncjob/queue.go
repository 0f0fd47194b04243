package syncjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how transient failures are retried. A job is retried
// at most MaxRetries times; the delay before retry n is
// min(InitialInterval * 2^(n-1), MaxInterval), optionally randomized.
type RetryPolicy struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	RandomizationFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          5,
		InitialInterval:     2 * time.Second,
		MaxInterval:         5 * time.Minute,
		RandomizationFactor: 0.2,
	}
}

// Delay returns the backoff before retry attempt n (1-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.RandomizationFactor
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// Notifier is told about every successful enqueue so idle workers can wake
// early. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, queue string)
}

type Option func(*Queue)

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue applies the retry policy on top of a Store.
type Queue struct {
	store    Store
	policy   RetryPolicy
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewQueue(store Store, policy RetryPolicy, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		policy: policy,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

func (q *Queue) Enqueue(ctx context.Context, j *Job) error {
	if j.Queue == "" || j.EntityType == "" || j.EntityID == "" {
		return fmt.Errorf("%w: queue, entity type and entity id are required", ErrInvalidJob)
	}
	if !j.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidJob, j.Operation)
	}
	now := q.now()
	j.State = StateCreated
	j.Attempts = 0
	if j.RunAt.IsZero() {
		j.RunAt = now
	}

	if err := q.store.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("enqueue %s job for %s %s: %w", j.Operation, j.EntityType, j.EntityID, err)
	}
	if q.notifier != nil {
		q.notifier.Notify(ctx, j.Queue)
	}
	return nil
}

// Dequeue claims the next runnable job of queue, or returns nil when none is ready.
func (q *Queue) Dequeue(ctx context.Context, queue string) (*Job, error) {
	return q.store.Claim(ctx, queue)
}

func (q *Queue) Ack(ctx context.Context, j *Job) error {
	if err := q.store.Complete(ctx, j.ID); err != nil {
		return fmt.Errorf("ack job %s: %w", j.ID, err)
	}
	j.State = StateCompleted
	return nil
}

// Fail records a failed attempt of j and returns the state it moved to:
// StateCreated when it will be retried, StateDeadLettered otherwise.
func (q *Queue) Fail(ctx context.Context, j *Job, cause error) (State, error) {
	class := ClassOf(cause)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if class == ClassTransient && j.Attempts <= q.policy.MaxRetries {
		delay := q.policy.Delay(j.Attempts)
		runAt := q.now().Add(delay)
		if err := q.store.Requeue(ctx, j.ID, runAt, class, msg); err != nil {
			return j.State, fmt.Errorf("requeue job %s: %w", j.ID, err)
		}
		q.logger.WarnContext(ctx, "sync job failed, retry scheduled",
			"queue", j.Queue, "job_id", j.ID, "entity_id", j.EntityID,
			"attempts", j.Attempts, "delay", delay, "error", msg)
		j.State, j.RunAt, j.LastError, j.ErrorClass = StateCreated, runAt, msg, class
		return StateCreated, nil
	}

	if err := q.store.DeadLetter(ctx, j.ID, class, msg); err != nil {
		return j.State, fmt.Errorf("dead-letter job %s: %w", j.ID, err)
	}
	q.logger.ErrorContext(ctx, "sync job dead-lettered",
		"queue", j.Queue, "job_id", j.ID, "entity_id", j.EntityID,
		"attempts", j.Attempts, "error_class", class, "error", msg)
	j.State, j.LastError, j.ErrorClass = StateDeadLettered, msg, class
	return StateDeadLettered, nil
}

func (q *Queue) Stats(ctx context.Context, queue string) (*Stats, error) {
	return q.store.Stats(ctx, queue)
}

func (q *Queue) ListFailed(ctx context.Context, queue string) ([]Job, error) {
	return q.store.ListFailed(ctx, queue)
}

func (q *Queue) PurgeFailed(ctx context.Context, queue string) (int, error) {
	return q.store.PurgeFailed(ctx, queue)
}

func (q *Queue) RetryFailed(ctx context.Context, queue string) (int, error) {
	n, err := q.store.RetryFailed(ctx, queue)
	if err != nil {
		return 0, err
	}
	if n > 0 && q.notifier != nil {
		q.notifier.Notify(ctx, queue)
	}
	return n, nil
}

// ReleaseStale gives back jobs whose claim is older than visibility.
func (q *Queue) ReleaseStale(ctx context.Context, visibility time.Duration) (int, error) {
	return q.store.ReleaseStale(ctx, q.now().Add(-visibility), q.policy.MaxRetries)
}
