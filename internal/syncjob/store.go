package syncjob

import (
	"context"
	"time"
)

// Store persists jobs and owns their state transitions. Every transition is
// conditional on the current state so concurrent callers cannot double-apply.
type Store interface {
	Enqueue(ctx context.Context, j *Job) error
	// Claim atomically moves the oldest runnable created job of queue to
	// active and increments its attempts. It returns nil, nil when no job is
	// available.
	Claim(ctx context.Context, queue string) (*Job, error)
	Complete(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, runAt time.Time, class ErrorClass, lastErr string) error
	DeadLetter(ctx context.Context, id string, class ErrorClass, lastErr string) error

	Stats(ctx context.Context, queue string) (*Stats, error)
	ListFailed(ctx context.Context, queue string) ([]Job, error)
	PurgeFailed(ctx context.Context, queue string) (int, error)
	RetryFailed(ctx context.Context, queue string) (int, error)

	// ReleaseStale returns active jobs claimed before olderThan to created,
	// or dead-letters them once attempts exceed maxRetries.
	ReleaseStale(ctx context.Context, olderThan time.Time, maxRetries int) (int, error)
}

// Watermarks records the highest version applied to each index document.
type Watermarks interface {
	AppliedVersion(ctx context.Context, documentID string) (version int64, found bool, err error)
	// MarkApplied raises the watermark; a lower version never overwrites a higher one.
	MarkApplied(ctx context.Context, documentID string, version int64, deleted bool) error
	// Lock serializes appliers of the same documents. The staleness check,
	// the index write and MarkApplied happen while it is held. Ids are locked
	// in sorted order; unlock releases all of them.
	Lock(ctx context.Context, documentIDs ...string) (unlock func(), err error)
}
