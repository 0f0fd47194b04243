package job

import (
	"context"
	"time"
)

// CheckStuck polls every queue once and returns the names of queues whose
// pending count is non-zero and has not decreased since the previous poll.
// The first poll of a queue only records a baseline.
func (s *Service) CheckStuck(ctx context.Context) ([]string, error) {
	var stuck []string
	for _, q := range s.queues {
		st, err := s.store.Stats(ctx, q)
		if err != nil {
			return stuck, err
		}

		s.mu.Lock()
		prev, seen := s.lastPending[q]
		isStuck := seen && st.Pending > 0 && st.Pending >= prev
		s.lastPending[q] = st.Pending
		s.stuck[q] = isStuck
		s.mu.Unlock()

		if isStuck {
			stuck = append(stuck, q)
			s.logger.WarnContext(ctx, "sync queue appears stuck",
				"queue", q, "pending", st.Pending, "previous_pending", prev, "active", st.Active, "failed", st.Failed)
		}
	}
	return stuck, nil
}

// CheckDropped returns how many changes were dropped since the previous call.
// Any loss is logged with the running total, since only a reindex repairs it.
func (s *Service) CheckDropped(ctx context.Context) int64 {
	s.mu.Lock()
	if s.drops == nil {
		s.mu.Unlock()
		return 0
	}
	total := s.drops.Dropped()
	delta := total - s.lastDropped
	s.lastDropped = total
	s.mu.Unlock()

	if delta > 0 {
		s.logger.WarnContext(ctx, "changes dropped before enqueue, reindex required",
			"dropped", delta, "dropped_total", total)
	}
	return delta
}

// Monitor runs CheckStuck every interval until ctx is done.
func (s *Service) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.CheckStuck(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "stuck queue check failed", "error", err)
			}
			s.CheckDropped(ctx)
		}
	}
}
