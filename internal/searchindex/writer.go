package searchindex

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"mediasearch/backend/internal/syncjob"
)

// BatchResult reports per-document failures of an otherwise accepted batch.
type BatchResult struct {
	Failed map[string]error
}

// Err returns the failure recorded for id, if any.
func (r *BatchResult) Err(id string) error {
	if r == nil || r.Failed == nil {
		return nil
	}
	return r.Failed[id]
}

// Writer is the index write client. Upsert overwrites by document id and
// deleting an absent document succeeds, so both are safe to repeat.
type Writer interface {
	Upsert(ctx context.Context, docs []Document) (*BatchResult, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByMedia(ctx context.Context, mediaID int64) (int, error)
}

// Counter reports how many documents the index holds.
type Counter interface {
	CountDocuments(ctx context.Context) (int, error)
}

// NewLimiter builds the shared admission limiter. A non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// RateLimitedWriter admits one index request per limiter token.
type RateLimitedWriter struct {
	next    Writer
	limiter *rate.Limiter
}

func NewRateLimitedWriter(next Writer, limiter *rate.Limiter) *RateLimitedWriter {
	return &RateLimitedWriter{next: next, limiter: limiter}
}

func (w *RateLimitedWriter) wait(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return syncjob.Transient(fmt.Errorf("index rate limit: %w", err))
	}
	return nil
}

func (w *RateLimitedWriter) Upsert(ctx context.Context, docs []Document) (*BatchResult, error) {
	if err := w.wait(ctx); err != nil {
		return nil, err
	}
	return w.next.Upsert(ctx, docs)
}

func (w *RateLimitedWriter) DeleteByID(ctx context.Context, id string) error {
	if err := w.wait(ctx); err != nil {
		return err
	}
	return w.next.DeleteByID(ctx, id)
}

func (w *RateLimitedWriter) DeleteByMedia(ctx context.Context, mediaID int64) (int, error) {
	if err := w.wait(ctx); err != nil {
		return 0, err
	}
	return w.next.DeleteByMedia(ctx, mediaID)
}
