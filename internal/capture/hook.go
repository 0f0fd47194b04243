package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"

	"mediasearch/backend/features/media"
	"mediasearch/backend/internal/middleware"
	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

// segmentNamespace scopes the name-based segment UUIDs.
var segmentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mediasearch:segment"))

// SegmentUUID derives the stable identifier of a segment from its natural key.
func SegmentUUID(mediaID int64, episode, position int) string {
	name := fmt.Sprintf("%d/%d/%d", mediaID, episode, position)
	return uuid.NewSHA1(segmentNamespace, []byte(name)).String()
}

type Enqueuer interface {
	Enqueue(ctx context.Context, j *syncjob.Job) error
}

type event struct {
	change        media.Change
	correlationID string
}

// Hook turns committed segment mutations into sync jobs. AfterCommit only
// hands the change to a buffered channel; Run performs the enqueue, so the
// writer never waits on the queue store.
type Hook struct {
	queue   Enqueuer
	events  chan event
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewHook(queue Enqueuer, buffer int, logger *slog.Logger) *Hook {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{
		queue:  queue,
		events: make(chan event, buffer),
		logger: logger,
	}
}

// BeforeInsert fills the uuid and char count when the caller left them empty.
func (h *Hook) BeforeInsert(seg *media.Segment) {
	if seg.UUID == "" {
		seg.UUID = SegmentUUID(seg.MediaID, seg.Episode, seg.Position)
	}
	if seg.CharCount == 0 {
		seg.CharCount = utf8.RuneCountInString(seg.Content)
	}
}

func (h *Hook) AfterCommit(ctx context.Context, change media.Change) {
	ev := event{change: change}
	if id := middleware.GetCorrelationID(ctx); id != "unknown" {
		ev.correlationID = id
	}

	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.logger.WarnContext(ctx, "sync hook buffer full, change dropped", "op", change.Op)
	}
}

// Dropped reports how many changes were discarded because the buffer was full.
func (h *Hook) Dropped() int64 {
	return h.dropped.Load()
}

// Run drains captured changes into the queue until ctx is cancelled, then
// flushes what is already buffered.
func (h *Hook) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-h.events:
			h.handle(ctx, ev)
		case <-ctx.Done():
			flushCtx := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-h.events:
					h.handle(flushCtx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (h *Hook) handle(ctx context.Context, ev event) {
	if ev.correlationID != "" {
		ctx = middleware.WithCorrelationID(ctx, ev.correlationID)
	}

	job, err := JobFor(ev.change)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to build sync job", "op", ev.change.Op, "error", err)
		return
	}
	job.CorrelationID = ev.correlationID

	if err := h.queue.Enqueue(ctx, job); err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue sync job",
			"queue", job.Queue, "entity_id", job.EntityID, "operation", job.Operation, "error", err)
		return
	}
	h.logger.DebugContext(ctx, "sync job enqueued",
		"queue", job.Queue, "job_id", job.ID, "entity_id", job.EntityID, "operation", job.Operation)
}

// JobFor translates one change into exactly one sync job.
func JobFor(c media.Change) (*syncjob.Job, error) {
	switch c.Op {
	case media.ChangeInsert, media.ChangeUpdate:
		if c.Segment == nil {
			return nil, fmt.Errorf("%s change without segment", c.Op)
		}
		op := syncjob.OpCreate
		if c.Op == media.ChangeUpdate {
			op = syncjob.OpUpdate
		}
		payload, err := json.Marshal(c.Segment.Snapshot(c.Media))
		if err != nil {
			return nil, err
		}
		return &syncjob.Job{
			Queue:      syncjob.QueueSegment,
			EntityType: syncjob.EntitySegment,
			EntityID:   c.Segment.UUID,
			Operation:  op,
			Payload:    payload,
			Version:    c.Segment.Version,
		}, nil

	case media.ChangeDelete:
		if c.Segment == nil {
			return nil, fmt.Errorf("delete change without segment")
		}
		payload, err := json.Marshal(searchindex.DeletePayload{DocumentID: c.Segment.UUID, Version: c.Segment.Version})
		if err != nil {
			return nil, err
		}
		return &syncjob.Job{
			Queue:      syncjob.QueueSegment,
			EntityType: syncjob.EntitySegment,
			EntityID:   c.Segment.UUID,
			Operation:  syncjob.OpDelete,
			Payload:    payload,
			Version:    c.Segment.Version,
		}, nil

	case media.ChangeMediaDelete:
		if c.Media == nil {
			return nil, fmt.Errorf("media delete change without media")
		}
		p := searchindex.MediaDeletePayload{MediaID: c.Media.ID}
		var version int64
		for _, s := range c.Removed {
			p.Documents = append(p.Documents, searchindex.DeletePayload{DocumentID: s.UUID, Version: s.Version})
			version = max(version, s.Version)
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return &syncjob.Job{
			Queue:      syncjob.QueueMedia,
			EntityType: syncjob.EntityMedia,
			EntityID:   strconv.FormatInt(c.Media.ID, 10),
			Operation:  syncjob.OpDelete,
			Payload:    payload,
			Version:    version,
		}, nil
	}
	return nil, fmt.Errorf("unknown change op %q", c.Op)
}
