package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"

	"mediasearch/backend/features/job"
	"mediasearch/backend/features/media"
	reindexapi "mediasearch/backend/features/reindex"
	"mediasearch/backend/features/stats"
	"mediasearch/backend/internal/adapter/gemini"
	"mediasearch/backend/internal/capture"
	"mediasearch/backend/internal/config"
	"mediasearch/backend/internal/middleware"
	"mediasearch/backend/internal/reindex"
	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
	"mediasearch/backend/internal/worker"
)

// IndexStore is the search index as the application uses it.
type IndexStore interface {
	searchindex.Writer
	searchindex.Counter
}

type Options struct {
	// Embedder overrides the Gemini embedder built from config.
	Embedder searchindex.Embedder
	// Store overrides the Postgres queue store.
	Store syncjob.Store
}

type App struct {
	Handler   http.Handler
	Media     *media.PostgresRepo
	Queue     *syncjob.Queue
	Hook      *capture.Hook
	Pool      *worker.Pool
	Jobs      *job.Service
	Reindexer *reindex.Orchestrator
	Wake      *worker.WakeConsumer

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func New(cfg *config.Config, db *sql.DB, index IndexStore, pub worker.Publisher, logger *slog.Logger, opts *Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts == nil {
		opts = &Options{}
	}

	var store syncjob.Store
	var marks syncjob.Watermarks
	if opts.Store != nil {
		store = opts.Store
		m, ok := opts.Store.(syncjob.Watermarks)
		if !ok {
			return nil, errors.New("queue store override must also keep watermarks")
		}
		marks = m
	} else {
		repo := syncjob.NewPostgresRepo(db)
		store, marks = repo, repo
	}

	notify := &fanout{}
	if pub != nil {
		notify.add(worker.NewWakePublisher(pub, config.TopicSyncWake))
	}
	queue := syncjob.NewQueue(store, syncjob.RetryPolicy{
		MaxRetries:          cfg.SyncMaxRetries,
		InitialInterval:     cfg.SyncBackoffInitial,
		MaxInterval:         cfg.SyncBackoffMax,
		RandomizationFactor: 0.2,
	}, syncjob.WithNotifier(notify), syncjob.WithLogger(logger))

	// Change capture
	hook := capture.NewHook(queue, cfg.SyncHookBuffer, logger)
	mediaRepo := media.NewPostgresRepo(db)
	mediaRepo.RegisterHook(hook)

	// Index write path shared by workers and reindex
	a := &App{cfg: cfg, logger: logger}
	embedder := opts.Embedder
	if embedder == nil && cfg.EmbeddingsEnabled {
		g := gemini.NewEmbedder(cfg.GeminiAPIKey, cfg.EmbeddingModel)
		embedder, a.closer = g, g
	}
	builder := searchindex.NewBuilder(embedder)
	writer := searchindex.NewRateLimitedWriter(index, searchindex.NewLimiter(cfg.IndexRateLimit, cfg.IndexRateBurst))

	// Workers
	proc := worker.NewProcessor(writer, builder, marks, cfg.SyncIndexTimeout)
	pool := worker.NewPool(queue, proc, worker.PoolConfig{
		Concurrency:       cfg.SyncWorkerConcurrency,
		Queues:            cfg.SyncQueues,
		PollInterval:      cfg.SyncPollInterval,
		VisibilityTimeout: cfg.SyncVisibilityTimeout,
		ReapInterval:      cfg.SyncReapInterval,
	}, logger)
	if cfg.EnableSyncWorker {
		notify.add(pool)
	}

	// Admin
	jobService := job.NewService(queue, cfg.SyncQueues, logger)
	jobService.WatchDrops(hook)
	jobHandler := job.NewHandler(jobService)
	orchestrator := reindex.New(mediaRepo, builder, writer, marks, cfg.ReindexBatchSize, cfg.SyncIndexTimeout, logger)
	reindexHandler := reindexapi.NewHandler(orchestrator)
	statsHandler := stats.NewHandler(mediaRepo, jobService, index)

	// Routes
	mux := http.NewServeMux()
	mux.Handle("GET /queues/stats", middleware.CorrelationID(http.HandlerFunc(jobHandler.Stats)))
	mux.Handle("GET /queues/{name}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Details)))
	mux.Handle("GET /queues/{name}/failed", middleware.CorrelationID(http.HandlerFunc(jobHandler.ListFailed)))
	mux.Handle("DELETE /queues/{name}/failed", middleware.CorrelationID(http.HandlerFunc(jobHandler.PurgeFailed)))
	mux.Handle("POST /queues/{name}/retry", middleware.CorrelationID(http.HandlerFunc(jobHandler.RetryFailed)))
	mux.Handle("POST /reindex", middleware.CorrelationID(http.HandlerFunc(reindexHandler.Reindex)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	a.Media = mediaRepo
	a.Queue = queue
	a.Hook = hook
	a.Pool = pool
	a.Jobs = jobService
	a.Reindexer = orchestrator
	a.Wake = worker.NewWakeConsumer(pool)
	return a, nil
}

// Run starts the change-capture drain, the stuck monitor and, when enabled,
// the sync workers and the HTTP server. It returns when ctx is done or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Hook.Run(gctx) })
	g.Go(func() error { return a.Jobs.Monitor(gctx, a.cfg.SyncStuckCheckInterval) })

	if a.cfg.EnableSyncWorker {
		g.Go(func() error { return a.Pool.Run(gctx) })
		g.Go(func() error {
			a.consumeWake(gctx)
			return nil
		})
	}

	if a.cfg.EnableAPI {
		g.Go(func() error { return a.serve(gctx) })
	}

	err := g.Wait()
	if a.closer != nil {
		if cerr := a.closer.Close(); cerr != nil {
			a.logger.Warn("failed to close embedder", "error", cerr)
		}
	}
	return err
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}()

	a.logger.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// consumeWake subscribes this process to the wake topic on an ephemeral
// channel, so every process sees every message. Failing to connect only
// leaves the workers on their poll interval.
func (a *App) consumeWake(ctx context.Context) {
	if a.cfg.NSQLookupd == "" {
		return
	}
	channel := fmt.Sprintf("worker-%s#ephemeral", uuid.NewString()[:8])
	consumer, err := nsq.NewConsumer(config.TopicSyncWake, channel, nsq.NewConfig())
	if err != nil {
		a.logger.Warn("failed to create wake consumer", "error", err)
		return
	}
	consumer.AddHandler(a.Wake)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		a.logger.Warn("failed to connect wake consumer to lookupd", "error", err)
		consumer.Stop()
		return
	}
	a.logger.Info("wake consumer connected", "topic", config.TopicSyncWake, "channel", channel)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
}

// fanout forwards enqueue notifications to every registered notifier.
type fanout struct {
	mu   sync.RWMutex
	list []syncjob.Notifier
}

func (f *fanout) add(n syncjob.Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, n)
}

func (f *fanout) Notify(ctx context.Context, queue string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, n := range f.list {
		n.Notify(ctx, queue)
	}
}
