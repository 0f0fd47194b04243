package syncjob_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediasearch/backend/internal/syncjob"
)

func TestMemoryStore_LockSerializesDocument(t *testing.T) {
	s := syncjob.NewMemoryStore()
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "doc-1", "doc-2")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := s.Lock(ctx, "doc-2")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second locker entered while doc-2 was held")
	case <-time.After(50 * time.Millisecond):
	}

	other, err := s.Lock(ctx, "doc-3")
	require.NoError(t, err, "unrelated documents are not blocked")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second locker never entered after unlock")
	}
}

func TestMemoryStore_LockHonoursContext(t *testing.T) {
	s := syncjob.NewMemoryStore()
	unlock, err := s.Lock(context.Background(), "doc-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "doc-0", "doc-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// doc-0 was released when the attempt gave up
	again, err := s.Lock(context.Background(), "doc-0")
	require.NoError(t, err)
	again()
}
