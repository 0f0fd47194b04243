package worker_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

// fakeIndex is an in-memory searchindex.Writer with idempotent semantics.
type fakeIndex struct {
	mu        sync.Mutex
	docs      map[string]searchindex.Document
	upsertErr error
	deleteErr error
	rejected  map[string]error
	calls     int
	block     bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]searchindex.Document{}, rejected: map[string]error{}}
}

func (f *fakeIndex) Upsert(ctx context.Context, docs []searchindex.Document) (*searchindex.BatchResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	res := &searchindex.BatchResult{Failed: map[string]error{}}
	for _, d := range docs {
		if err, ok := f.rejected[d.ID]; ok {
			res.Failed[d.ID] = err
			continue
		}
		f.docs[d.ID] = d
	}
	return res, nil
}

func (f *fakeIndex) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeIndex) DeleteByMedia(_ context.Context, mediaID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	n := 0
	for id, d := range f.docs {
		if d.Properties["mediaId"] == mediaID {
			delete(f.docs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeIndex) get(id string) (searchindex.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	return d, ok
}

func (f *fakeIndex) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// gatedIndex holds the first Upsert until release is closed.
type gatedIndex struct {
	*fakeIndex
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedIndex() *gatedIndex {
	return &gatedIndex{fakeIndex: newFakeIndex(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedIndex) Upsert(ctx context.Context, docs []searchindex.Document) (*searchindex.BatchResult, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeIndex.Upsert(ctx, docs)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

const (
	segA = "5b3f8a4e-8ad1-5d4c-9c39-6a1f0c8e2b11"
	segB = "0c5d6a7e-1f2b-5c3d-8e4f-9a0b1c2d3e4f"
)

func upsertJob(id string, version int64, content string) *syncjob.Job {
	payload, _ := json.Marshal(searchindex.SegmentSnapshot{
		UUID: id, MediaID: 7, Episode: 1, Position: 1, EndTimeMs: 1000, Content: content, Version: version,
	})
	return &syncjob.Job{
		ID: "job-" + id, Queue: syncjob.QueueSegment, EntityType: syncjob.EntitySegment, EntityID: id,
		Operation: syncjob.OpUpdate, Payload: payload, Version: version,
	}
}

func deleteJob(id string, version int64) *syncjob.Job {
	payload, _ := json.Marshal(searchindex.DeletePayload{DocumentID: id, Version: version})
	return &syncjob.Job{
		ID: "job-del-" + id, Queue: syncjob.QueueSegment, EntityType: syncjob.EntitySegment, EntityID: id,
		Operation: syncjob.OpDelete, Payload: payload, Version: version,
	}
}
