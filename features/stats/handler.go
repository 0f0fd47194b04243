package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"mediasearch/backend/internal/middleware"
	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

type MediaRepo interface {
	CountMedia(ctx context.Context) (int, error)
	CountSegments(ctx context.Context) (int, error)
}

type QueueStats interface {
	Stats(ctx context.Context) (map[string]syncjob.Stats, error)
}

type Handler struct {
	mediaRepo MediaRepo
	queues    QueueStats
	index     searchindex.Counter
}

func NewHandler(m MediaRepo, q QueueStats, idx searchindex.Counter) *Handler {
	return &Handler{mediaRepo: m, queues: q, index: idx}
}

type StatsResponse struct {
	Media       int                      `json:"media"`
	Segments    int                      `json:"segments"`
	IndexedDocs int                      `json:"indexedDocuments"`
	PendingJobs int                      `json:"pendingJobs"`
	FailedJobs  int                      `json:"failedJobs"`
	IndexLag    int                      `json:"indexLag"`
	Queues      map[string]syncjob.Stats `json:"queues"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	mCount, err := h.mediaRepo.CountMedia(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count media", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count media", http.StatusInternalServerError)
		return
	}

	sCount, err := h.mediaRepo.CountSegments(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count segments", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count segments", http.StatusInternalServerError)
		return
	}

	queues, err := h.queues.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to get queue stats", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to get queue stats", http.StatusInternalServerError)
		return
	}

	dCount, err := h.index.CountDocuments(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Media:       mCount,
		Segments:    sCount,
		IndexedDocs: dCount,
		IndexLag:    sCount - dCount,
		Queues:      queues,
	}
	for _, q := range queues {
		resp.PendingJobs += q.Pending
		resp.FailedJobs += q.Failed
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
