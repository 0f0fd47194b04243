package capture_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediasearch/backend/features/media"
	"mediasearch/backend/internal/capture"
	"mediasearch/backend/internal/middleware"
	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*syncjob.Job
	err  error
	seen chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{seen: make(chan struct{}, 16)}
}

func (q *fakeQueue) Enqueue(_ context.Context, j *syncjob.Job) error {
	defer func() { q.seen <- struct{}{} }()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, j)
	return nil
}

func (q *fakeQueue) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-q.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for enqueue %d", i+1)
		}
	}
}

func TestSegmentUUID_Deterministic(t *testing.T) {
	a := capture.SegmentUUID(7, 1, 3)
	assert.Equal(t, a, capture.SegmentUUID(7, 1, 3))
	assert.NotEqual(t, a, capture.SegmentUUID(7, 1, 4))
	assert.NotEqual(t, a, capture.SegmentUUID(7, 13, 0))
	assert.Len(t, a, 36)
}

func TestHook_BeforeInsert(t *testing.T) {
	h := capture.NewHook(newFakeQueue(), 1, nil)

	seg := &media.Segment{MediaID: 7, Episode: 1, Position: 3, Content: "おはよう"}
	h.BeforeInsert(seg)
	assert.Equal(t, capture.SegmentUUID(7, 1, 3), seg.UUID)
	assert.Equal(t, 4, seg.CharCount)

	kept := &media.Segment{UUID: "given", CharCount: 99, Content: "x"}
	h.BeforeInsert(kept)
	assert.Equal(t, "given", kept.UUID)
	assert.Equal(t, 99, kept.CharCount)
}

func TestHook_EnqueuesAfterCommit(t *testing.T) {
	q := newFakeQueue()
	h := capture.NewHook(q, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	seg := &media.Segment{UUID: "5b3f8a4e-8ad1-5d4c-9c39-6a1f0c8e2b11", MediaID: 7, Content: "x", Version: 12}
	reqCtx := middleware.WithCorrelationID(context.Background(), "corr-1")
	h.AfterCommit(reqCtx, media.Change{Op: media.ChangeInsert, Segment: seg, Media: &media.Media{ID: 7, TitleEnglish: "T"}})
	q.wait(t, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.jobs, 1)
	j := q.jobs[0]
	assert.Equal(t, syncjob.OpCreate, j.Operation)
	assert.Equal(t, syncjob.QueueSegment, j.Queue)
	assert.Equal(t, seg.UUID, j.EntityID)
	assert.Equal(t, int64(12), j.Version)
	assert.Equal(t, "corr-1", j.CorrelationID)

	var snap searchindex.SegmentSnapshot
	require.NoError(t, json.Unmarshal(j.Payload, &snap))
	assert.Equal(t, "T", snap.MediaTitle)
}

func TestHook_EnqueueFailureIsSwallowed(t *testing.T) {
	q := newFakeQueue()
	q.err = errors.New("queue store unreachable")
	h := capture.NewHook(q, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	assert.NotPanics(t, func() {
		h.AfterCommit(context.Background(), media.Change{Op: media.ChangeDelete, Segment: &media.Segment{UUID: "u"}})
	})
	q.wait(t, 1)
	assert.Empty(t, q.jobs)
}

func TestHook_FullBufferDropsWithoutBlocking(t *testing.T) {
	h := capture.NewHook(newFakeQueue(), 1, nil)
	change := media.Change{Op: media.ChangeDelete, Segment: &media.Segment{UUID: "u"}}

	done := make(chan struct{})
	go func() {
		h.AfterCommit(context.Background(), change)
		h.AfterCommit(context.Background(), change)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AfterCommit blocked")
	}
	assert.Equal(t, int64(1), h.Dropped())
}

func TestHook_RunFlushesOnShutdown(t *testing.T) {
	q := newFakeQueue()
	h := capture.NewHook(q, 4, nil)
	for i := 0; i < 3; i++ {
		h.AfterCommit(context.Background(), media.Change{Op: media.ChangeDelete, Segment: &media.Segment{UUID: "u"}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))
	assert.Len(t, q.jobs, 3)
}

func TestJobFor(t *testing.T) {
	t.Run("Update", func(t *testing.T) {
		j, err := capture.JobFor(media.Change{Op: media.ChangeUpdate, Segment: &media.Segment{UUID: "u", Version: 3}})
		require.NoError(t, err)
		assert.Equal(t, syncjob.OpUpdate, j.Operation)
	})

	t.Run("DeleteCarriesIdentityOnly", func(t *testing.T) {
		j, err := capture.JobFor(media.Change{Op: media.ChangeDelete, Segment: &media.Segment{UUID: "u", Version: 9, Content: "gone"}})
		require.NoError(t, err)
		assert.Equal(t, syncjob.OpDelete, j.Operation)
		assert.JSONEq(t, `{"documentId":"u","version":9}`, string(j.Payload))
	})

	t.Run("MediaDelete", func(t *testing.T) {
		j, err := capture.JobFor(media.Change{
			Op:      media.ChangeMediaDelete,
			Media:   &media.Media{ID: 42},
			Removed: []media.Segment{{UUID: "a", Version: 5}, {UUID: "b", Version: 8}},
		})
		require.NoError(t, err)
		assert.Equal(t, syncjob.QueueMedia, j.Queue)
		assert.Equal(t, syncjob.EntityMedia, j.EntityType)
		assert.Equal(t, "42", j.EntityID)
		assert.Equal(t, int64(8), j.Version)

		var p searchindex.MediaDeletePayload
		require.NoError(t, json.Unmarshal(j.Payload, &p))
		assert.Equal(t, int64(42), p.MediaID)
		assert.Len(t, p.Documents, 2)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := capture.JobFor(media.Change{Op: "truncate"})
		assert.Error(t, err)
	})
}
