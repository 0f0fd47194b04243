package syncjob

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and Watermarks used by tests and
// single-process development setups. It does not survive restarts.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	marks map[string]watermark
	now   func() time.Time

	lockMu   sync.Mutex
	docLocks map[string]chan struct{}
}

type watermark struct {
	version int64
	deleted bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*Job),
		marks:    make(map[string]watermark),
		now:      time.Now,
		docLocks: make(map[string]chan struct{}),
	}
}

// SetClock replaces the time source used for run_at comparisons.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Enqueue(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.State = StateCreated
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, queue string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *Job
	for _, j := range s.jobs {
		if j.Queue != queue || j.State != StateCreated || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = StateActive
	next.Attempts++
	next.ClaimedAt = &now
	next.UpdatedAt = now

	cp := *next
	return &cp, nil
}

func (s *MemoryStore) active(id string) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.State != StateActive {
		return nil, ErrJobNotActive
	}
	return j, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.active(id); err != nil {
		return err
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id string, runAt time.Time, class ErrorClass, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.active(id)
	if err != nil {
		return err
	}
	j.State = StateCreated
	j.RunAt = runAt
	j.ErrorClass = class
	j.LastError = lastErr
	j.ClaimedAt = nil
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) DeadLetter(_ context.Context, id string, class ErrorClass, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.active(id)
	if err != nil {
		return err
	}
	now := s.now()
	j.State = StateDeadLettered
	j.ErrorClass = class
	j.LastError = lastErr
	j.ClaimedAt = nil
	j.FailedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, queue string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{Queue: queue}
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case StateCreated, StateActive:
			st.Pending++
			if j.State == StateActive {
				st.Active++
			}
			if st.OldestPendingAt == nil || j.CreatedAt.Before(*st.OldestPendingAt) {
				created := j.CreatedAt
				st.OldestPendingAt = &created
			}
		case StateDeadLettered:
			st.Failed++
		}
	}
	return st, nil
}

func (s *MemoryStore) ListFailed(_ context.Context, queue string) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == StateDeadLettered {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].FailedAt.After(*jobs[b].FailedAt)
	})
	return jobs, nil
}

func (s *MemoryStore) PurgeFailed(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Queue == queue && j.State == StateDeadLettered {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RetryFailed(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == StateDeadLettered {
			j.State = StateCreated
			j.Attempts = 0
			j.RunAt = now
			j.FailedAt = nil
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReleaseStale(_ context.Context, olderThan time.Time, maxRetries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, j := range s.jobs {
		if j.State != StateActive || j.ClaimedAt == nil || !j.ClaimedAt.Before(olderThan) {
			continue
		}
		j.ClaimedAt = nil
		j.UpdatedAt = now
		j.LastError = "claim expired"
		j.ErrorClass = ClassTransient
		if j.Attempts > maxRetries {
			j.State = StateDeadLettered
			j.FailedAt = &now
		} else {
			j.State = StateCreated
			j.RunAt = now
		}
		n++
	}
	return n, nil
}

// Get returns a copy of the job with id, including dead-lettered ones.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) AppliedVersion(_ context.Context, documentID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.marks[documentID]
	return w.version, ok, nil
}

func (s *MemoryStore) MarkApplied(_ context.Context, documentID string, version int64, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.marks[documentID]; ok && w.version > version {
		return nil
	}
	s.marks[documentID] = watermark{version: version, deleted: deleted}
	return nil
}

func (s *MemoryStore) docLock(id string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	ch, ok := s.docLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.docLocks[id] = ch
	}
	return ch
}

// Lock holds one slot per document id. Entries live as long as the store.
func (s *MemoryStore) Lock(ctx context.Context, documentIDs ...string) (func(), error) {
	ids := lockOrder(documentIDs)
	held := make([]chan struct{}, 0, len(ids))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ids {
		ch := s.docLock(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			unlock()
			return nil, ctx.Err()
		}
	}
	return unlock, nil
}

// lockOrder sorts and dedupes ids so concurrent lockers never deadlock.
func lockOrder(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
