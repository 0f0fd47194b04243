package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

type PoolConfig struct {
	Concurrency       int
	Queues            []string
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	ReapInterval      time.Duration
}

// Pool runs a fixed set of workers plus a reaper that returns expired
// claims to the queue.
type Pool struct {
	queue   JobQueue
	workers []*Worker
	cfg     PoolConfig
	logger  *slog.Logger
}

func NewPool(queue JobQueue, proc Applier, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	p := &Pool{queue: queue, cfg: cfg, logger: logger}
	for i := 0; i < cfg.Concurrency; i++ {
		p.workers = append(p.workers, NewWorker(fmt.Sprintf("sync-%d", i), queue, proc, cfg.Queues, cfg.PollInterval, logger))
	}
	return p
}

// Wake nudges every idle worker.
func (p *Pool) Wake() {
	for _, w := range p.workers {
		w.Wake()
	}
}

// Notify lets the pool act as an in-process queue notifier.
func (p *Pool) Notify(_ context.Context, _ string) {
	p.Wake()
}

func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if p.cfg.VisibilityTimeout > 0 && p.cfg.ReapInterval > 0 {
		g.Go(func() error {
			return p.reap(gctx)
		})
	}
	return g.Wait()
}

func (p *Pool) reap(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.queue.ReleaseStale(ctx, p.cfg.VisibilityTimeout)
			if err != nil {
				p.logger.ErrorContext(ctx, "failed to release stale sync jobs", "error", err)
				continue
			}
			if n > 0 {
				p.logger.WarnContext(ctx, "released stale sync jobs", "count", n)
				p.Wake()
			}
		}
	}
}
