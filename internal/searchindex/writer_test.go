package searchindex_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

type countingWriter struct {
	upserts, deletes, sweeps int
}

func (w *countingWriter) Upsert(_ context.Context, docs []searchindex.Document) (*searchindex.BatchResult, error) {
	w.upserts += len(docs)
	return &searchindex.BatchResult{}, nil
}

func (w *countingWriter) DeleteByID(context.Context, string) error {
	w.deletes++
	return nil
}

func (w *countingWriter) DeleteByMedia(context.Context, int64) (int, error) {
	w.sweeps++
	return 2, nil
}

func TestRateLimitedWriter_PassesThrough(t *testing.T) {
	next := &countingWriter{}
	w := searchindex.NewRateLimitedWriter(next, searchindex.NewLimiter(0, 0))
	ctx := context.Background()

	_, err := w.Upsert(ctx, []searchindex.Document{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.NoError(t, w.DeleteByID(ctx, "a"))
	n, err := w.DeleteByMedia(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, next.upserts)
	assert.Equal(t, 1, next.deletes)
	assert.Equal(t, 2, n)
}

func TestRateLimitedWriter_WaitFailureIsTransient(t *testing.T) {
	next := &countingWriter{}
	limiter := rate.NewLimiter(rate.Every(1<<62), 1)
	require.True(t, limiter.Allow(), "drain the only token")
	w := searchindex.NewRateLimitedWriter(next, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.DeleteByID(ctx, "a")
	require.Error(t, err)
	assert.Equal(t, syncjob.ClassTransient, syncjob.ClassOf(err))
	assert.Equal(t, 0, next.deletes)
}

func TestBatchResult_Err(t *testing.T) {
	var nilResult *searchindex.BatchResult
	assert.NoError(t, nilResult.Err("x"))

	boom := errors.New("boom")
	r := &searchindex.BatchResult{Failed: map[string]error{"x": boom}}
	assert.Equal(t, boom, r.Err("x"))
	assert.NoError(t, r.Err("y"))
}
