package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

// Outcome is the result of applying one job. It is logged, never persisted.
type Outcome struct {
	Success    bool
	Skipped    bool
	DocumentID string
	ErrorClass syncjob.ErrorClass
	Err        error
}

func success(docID string) Outcome {
	return Outcome{Success: true, DocumentID: docID}
}

func skipped(docID string) Outcome {
	return Outcome{Success: true, Skipped: true, DocumentID: docID}
}

func failure(docID string, err error) Outcome {
	return Outcome{DocumentID: docID, ErrorClass: syncjob.ClassOf(err), Err: err}
}

type Applier interface {
	Apply(ctx context.Context, j *syncjob.Job) Outcome
}

// Processor applies sync jobs to the search index. All writes are
// idempotent, so a job delivered twice leaves the index unchanged.
type Processor struct {
	writer  searchindex.Writer
	builder *searchindex.Builder
	marks   syncjob.Watermarks
	timeout time.Duration
}

func NewProcessor(w searchindex.Writer, b *searchindex.Builder, marks syncjob.Watermarks, timeout time.Duration) *Processor {
	return &Processor{writer: w, builder: b, marks: marks, timeout: timeout}
}

func (p *Processor) Apply(ctx context.Context, j *syncjob.Job) Outcome {
	switch {
	case j.EntityType == syncjob.EntitySegment && (j.Operation == syncjob.OpCreate || j.Operation == syncjob.OpUpdate):
		return p.upsertSegment(ctx, j)
	case j.EntityType == syncjob.EntitySegment && j.Operation == syncjob.OpDelete:
		return p.deleteSegment(ctx, j)
	case j.EntityType == syncjob.EntityMedia && j.Operation == syncjob.OpDelete:
		return p.deleteMedia(ctx, j)
	}
	return failure(j.EntityID, syncjob.Permanent(fmt.Errorf("unsupported job %s %s", j.Operation, j.EntityType)))
}

func decode(j *syncjob.Job, v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return syncjob.Permanent(fmt.Errorf("decode %s payload: %w", j.Operation, err))
	}
	return nil
}

func (p *Processor) indexCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// stale reports whether a newer version than version was already applied to docID.
func (p *Processor) stale(ctx context.Context, docID string, version int64) (bool, error) {
	applied, found, err := p.marks.AppliedVersion(ctx, docID)
	if err != nil {
		return false, syncjob.Transient(fmt.Errorf("read watermark of %s: %w", docID, err))
	}
	return found && version < applied, nil
}

func (p *Processor) lock(ctx context.Context, docIDs ...string) (func(), error) {
	unlock, err := p.marks.Lock(ctx, docIDs...)
	if err != nil {
		return nil, syncjob.Transient(fmt.Errorf("lock documents: %w", err))
	}
	return unlock, nil
}

func (p *Processor) mark(ctx context.Context, docID string, version int64, deleted bool) error {
	if err := p.marks.MarkApplied(ctx, docID, version, deleted); err != nil {
		return syncjob.Transient(fmt.Errorf("record watermark of %s: %w", docID, err))
	}
	return nil
}

func (p *Processor) upsertSegment(ctx context.Context, j *syncjob.Job) Outcome {
	var snap searchindex.SegmentSnapshot
	if err := decode(j, &snap); err != nil {
		return failure(j.EntityID, err)
	}
	docID := snap.UUID

	unlock, err := p.lock(ctx, docID)
	if err != nil {
		return failure(docID, err)
	}
	defer unlock()

	isStale, err := p.stale(ctx, docID, j.Version)
	if err != nil {
		return failure(docID, err)
	}
	if isStale {
		slog.InfoContext(ctx, "discarding stale sync job", "document_id", docID, "version", j.Version)
		return skipped(docID)
	}

	doc, err := p.builder.Build(ctx, snap)
	if err != nil {
		return failure(docID, err)
	}

	ictx, cancel := p.indexCtx(ctx)
	defer cancel()
	res, err := p.writer.Upsert(ictx, []searchindex.Document{*doc})
	if err != nil {
		return failure(docID, err)
	}
	if err := res.Err(docID); err != nil {
		return failure(docID, err)
	}

	if err := p.mark(ctx, docID, j.Version, false); err != nil {
		return failure(docID, err)
	}
	return success(docID)
}

func (p *Processor) deleteSegment(ctx context.Context, j *syncjob.Job) Outcome {
	var del searchindex.DeletePayload
	if err := decode(j, &del); err != nil {
		return failure(j.EntityID, err)
	}
	if del.DocumentID == "" {
		del.DocumentID = j.EntityID
	}
	version := max(del.Version, j.Version)

	unlock, err := p.lock(ctx, del.DocumentID)
	if err != nil {
		return failure(del.DocumentID, err)
	}
	defer unlock()

	isStale, err := p.stale(ctx, del.DocumentID, version)
	if err != nil {
		return failure(del.DocumentID, err)
	}
	if isStale {
		slog.InfoContext(ctx, "discarding stale delete", "document_id", del.DocumentID, "version", version)
		return skipped(del.DocumentID)
	}

	ictx, cancel := p.indexCtx(ctx)
	defer cancel()
	if err := p.writer.DeleteByID(ictx, del.DocumentID); err != nil {
		return failure(del.DocumentID, err)
	}

	if err := p.mark(ctx, del.DocumentID, version, true); err != nil {
		return failure(del.DocumentID, err)
	}
	return success(del.DocumentID)
}

func (p *Processor) deleteMedia(ctx context.Context, j *syncjob.Job) Outcome {
	var del searchindex.MediaDeletePayload
	if err := decode(j, &del); err != nil {
		return failure(j.EntityID, err)
	}
	if del.MediaID <= 0 {
		return failure(j.EntityID, syncjob.Permanent(fmt.Errorf("media delete without media id")))
	}

	ids := make([]string, 0, len(del.Documents))
	for _, d := range del.Documents {
		ids = append(ids, d.DocumentID)
	}
	unlock, err := p.lock(ctx, ids...)
	if err != nil {
		return failure(j.EntityID, err)
	}
	defer unlock()

	ictx, cancel := p.indexCtx(ctx)
	defer cancel()
	n, err := p.writer.DeleteByMedia(ictx, del.MediaID)
	if err != nil {
		return failure(j.EntityID, err)
	}

	for _, d := range del.Documents {
		if err := p.mark(ctx, d.DocumentID, d.Version, true); err != nil {
			return failure(j.EntityID, err)
		}
	}
	slog.InfoContext(ctx, "media documents deleted", "media_id", del.MediaID, "deleted", n)
	return success(j.EntityID)
}
