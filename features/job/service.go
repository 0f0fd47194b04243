package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"mediasearch/backend/internal/syncjob"
)

// QueueStore is the part of syncjob.Queue the admin surface needs.
type QueueStore interface {
	Stats(ctx context.Context, queue string) (*syncjob.Stats, error)
	ListFailed(ctx context.Context, queue string) ([]syncjob.Job, error)
	PurgeFailed(ctx context.Context, queue string) (int, error)
	RetryFailed(ctx context.Context, queue string) (int, error)
}

// Service exposes queue state and remediation for the configured queues.
// Store errors are returned to the caller unchanged apart from wrapping.
type Service struct {
	store  QueueStore
	queues []string
	known  map[string]struct{}
	logger *slog.Logger

	mu          sync.Mutex
	lastPending map[string]int
	stuck       map[string]bool
	drops       DropCounter
	lastDropped int64
}

// DropCounter reports committed changes that never reached the queue.
type DropCounter interface {
	Dropped() int64
}

func NewService(store QueueStore, queues []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		known[q] = struct{}{}
	}
	return &Service{
		store:       store,
		queues:      queues,
		known:       known,
		logger:      logger,
		lastPending: make(map[string]int),
		stuck:       make(map[string]bool),
	}
}

// WatchDrops makes the monitor report changes lost before enqueue.
func (s *Service) WatchDrops(c DropCounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = c
}

func (s *Service) Queues() []string {
	return append([]string(nil), s.queues...)
}

func (s *Service) check(queue string) error {
	if _, ok := s.known[queue]; !ok {
		return fmt.Errorf("%w: %q", syncjob.ErrQueueNotFound, queue)
	}
	return nil
}

// Stats returns the counters of every known queue keyed by name.
func (s *Service) Stats(ctx context.Context) (map[string]syncjob.Stats, error) {
	out := make(map[string]syncjob.Stats, len(s.queues))
	for _, q := range s.queues {
		st, err := s.store.Stats(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("stats for queue %s: %w", q, err)
		}
		out[q] = *st
	}
	return out, nil
}

func (s *Service) Details(ctx context.Context, queue string) (*QueueDetails, error) {
	if err := s.check(queue); err != nil {
		return nil, err
	}
	st, err := s.store.Stats(ctx, queue)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	stuck := s.stuck[queue]
	s.mu.Unlock()
	return &QueueDetails{Stats: *st, Waiting: st.Waiting(), Stuck: stuck}, nil
}

func (s *Service) ListFailed(ctx context.Context, queue string) ([]FailedJob, error) {
	if err := s.check(queue); err != nil {
		return nil, err
	}
	jobs, err := s.store.ListFailed(ctx, queue)
	if err != nil {
		return nil, err
	}
	out := make([]FailedJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, fromJob(j))
	}
	return out, nil
}

func (s *Service) PurgeFailed(ctx context.Context, queue string) (int, error) {
	if err := s.check(queue); err != nil {
		return 0, err
	}
	n, err := s.store.PurgeFailed(ctx, queue)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "purged failed jobs", "queue", queue, "count", n)
	return n, nil
}

func (s *Service) RetryFailed(ctx context.Context, queue string) (int, error) {
	if err := s.check(queue); err != nil {
		return 0, err
	}
	n, err := s.store.RetryFailed(ctx, queue)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "re-enqueued failed jobs", "queue", queue, "count", n)
	return n, nil
}
