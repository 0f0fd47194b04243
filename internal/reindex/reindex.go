package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mediasearch/backend/features/media"
	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

// Selector scopes a reindex to one media and optionally some of its episodes.
type Selector struct {
	MediaID  int64 `json:"mediaId"`
	Episodes []int `json:"episodes,omitempty"`
}

type ItemError struct {
	EntityID   string `json:"entityId"`
	DocumentID string `json:"documentId,omitempty"`
	Message    string `json:"message"`
}

// Run aggregates the outcome of one reindex. A failed item never aborts the run.
type Run struct {
	MediaProcessed    int         `json:"mediaProcessed"`
	TotalSegments     int         `json:"totalSegments"`
	SuccessfulIndexes int         `json:"successfulIndexes"`
	FailedIndexes     int         `json:"failedIndexes"`
	Errors            []ItemError `json:"errors"`
	Success           bool        `json:"success"`
}

func (r *Run) Message() string {
	if r.FailedIndexes == 0 {
		return "Reindex completed successfully"
	}
	return fmt.Sprintf("Reindex completed with %d failed indexes", r.FailedIndexes)
}

func (r *Run) fail(entityID, docID string, err error) {
	r.FailedIndexes++
	r.Errors = append(r.Errors, ItemError{EntityID: entityID, DocumentID: docID, Message: err.Error()})
}

type Reader interface {
	ListMediaIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	GetMedia(ctx context.Context, id int64) (*media.Media, error)
	ListSegments(ctx context.Context, mediaID int64, episodes []int) ([]media.Segment, error)
}

// Orchestrator rebuilds index documents straight from the primary store,
// bypassing the queue.
type Orchestrator struct {
	reader    Reader
	builder   *searchindex.Builder
	writer    searchindex.Writer
	marks     syncjob.Watermarks
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds an Orchestrator. timeout bounds each batch write; zero disables it.
func New(reader Reader, builder *searchindex.Builder, writer searchindex.Writer, marks syncjob.Watermarks, batchSize int, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if batchSize < 1 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		reader:    reader,
		builder:   builder,
		writer:    writer,
		marks:     marks,
		batchSize: batchSize,
		timeout:   timeout,
		logger:    logger,
	}
}

// Reindex rebuilds the selected media, or every media when selectors is
// empty. The returned error is non-nil only when the target set cannot be
// enumerated or ctx ends; the partial Run is returned either way.
func (o *Orchestrator) Reindex(ctx context.Context, selectors []Selector) (*Run, error) {
	run := &Run{Errors: []ItemError{}}
	start := time.Now()
	o.logger.InfoContext(ctx, "reindex started", "selectors", len(selectors))

	var err error
	if len(selectors) == 0 {
		err = o.reindexAll(ctx, run)
	} else {
		for _, sel := range selectors {
			if err = ctx.Err(); err != nil {
				break
			}
			o.reindexMedia(ctx, run, sel.MediaID, sel.Episodes)
		}
	}
	run.Success = run.FailedIndexes == 0 && err == nil

	o.logger.InfoContext(ctx, "reindex finished",
		"media_processed", run.MediaProcessed, "total_segments", run.TotalSegments,
		"successful", run.SuccessfulIndexes, "failed", run.FailedIndexes, "duration", time.Since(start))
	return run, err
}

func (o *Orchestrator) reindexAll(ctx context.Context, run *Run) error {
	var after int64
	for {
		ids, err := o.reader.ListMediaIDs(ctx, after, o.batchSize)
		if err != nil {
			return fmt.Errorf("list media after %d: %w", after, err)
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			o.reindexMedia(ctx, run, id, nil)
		}
		after = ids[len(ids)-1]
	}
}

func (o *Orchestrator) reindexMedia(ctx context.Context, run *Run, mediaID int64, episodes []int) {
	run.MediaProcessed++
	entityID := strconv.FormatInt(mediaID, 10)

	m, err := o.reader.GetMedia(ctx, mediaID)
	if err != nil {
		o.logger.WarnContext(ctx, "reindex failed to load media", "media_id", mediaID, "error", err)
		run.fail(entityID, "", fmt.Errorf("load media: %w", err))
		return
	}
	segs, err := o.reader.ListSegments(ctx, mediaID, episodes)
	if err != nil {
		o.logger.WarnContext(ctx, "reindex failed to load segments", "media_id", mediaID, "error", err)
		run.fail(entityID, "", fmt.Errorf("load segments: %w", err))
		return
	}
	run.TotalSegments += len(segs)

	for start := 0; start < len(segs); start += o.batchSize {
		end := min(start+o.batchSize, len(segs))
		o.indexBatch(ctx, run, m, segs[start:end])
	}
}

func (o *Orchestrator) indexBatch(ctx context.Context, run *Run, m *media.Media, segs []media.Segment) {
	entityID := strconv.FormatInt(m.ID, 10)
	ids := make([]string, len(segs))
	for i := range segs {
		ids[i] = segs[i].UUID
	}
	unlock, err := o.marks.Lock(ctx, ids...)
	if err != nil {
		for _, id := range ids {
			run.fail(entityID, id, fmt.Errorf("lock documents: %w", err))
		}
		return
	}
	defer unlock()

	docs := make([]searchindex.Document, 0, len(segs))
	versions := make(map[string]int64, len(segs))
	for i := range segs {
		s := &segs[i]
		applied, found, err := o.marks.AppliedVersion(ctx, s.UUID)
		if err == nil && found && applied > s.Version {
			// a newer write already reached the index
			run.SuccessfulIndexes++
			continue
		}

		doc, err := o.builder.Build(ctx, s.Snapshot(m))
		if err != nil {
			run.fail(strconv.FormatInt(s.MediaID, 10), s.UUID, err)
			continue
		}
		docs = append(docs, *doc)
		versions[doc.ID] = s.Version
	}
	if len(docs) == 0 {
		return
	}

	res, err := o.upsert(ctx, docs)
	if err != nil {
		for _, d := range docs {
			run.fail(entityID, d.ID, err)
		}
		return
	}
	for _, d := range docs {
		if derr := res.Err(d.ID); derr != nil {
			run.fail(entityID, d.ID, derr)
			continue
		}
		run.SuccessfulIndexes++
		if err := o.marks.MarkApplied(ctx, d.ID, versions[d.ID], false); err != nil {
			o.logger.WarnContext(ctx, "reindex failed to record watermark", "document_id", d.ID, "error", err)
		}
	}
}

func (o *Orchestrator) upsert(ctx context.Context, docs []searchindex.Document) (*searchindex.BatchResult, error) {
	if o.timeout <= 0 {
		return o.writer.Upsert(ctx, docs)
	}
	ictx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.writer.Upsert(ictx, docs)
}
