package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mediasearch/backend/internal/middleware"
	"mediasearch/backend/internal/syncjob"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "getting queue stats", "correlationId", middleware.GetCorrelationID(ctx))

	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to get queue stats", err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, stats)
}

func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	details, err := h.service.Details(ctx, name)
	if err != nil {
		h.fail(ctx, w, "failed to get queue details", err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, details)
}

func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	slog.InfoContext(ctx, "listing failed jobs", "queue", name, "correlationId", middleware.GetCorrelationID(ctx))

	jobs, err := h.service.ListFailed(ctx, name)
	if err != nil {
		h.fail(ctx, w, "failed to list failed jobs", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) PurgeFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	n, err := h.service.PurgeFailed(ctx, name)
	if err != nil {
		h.fail(ctx, w, "failed to purge failed jobs", err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, map[string]int{"purgedCount": n})
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	n, err := h.service.RetryFailed(ctx, name)
	if err != nil {
		h.fail(ctx, w, "failed to retry failed jobs", err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, map[string]int{"retriedCount": n})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, syncjob.ErrQueueNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "Queue not found", http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, msg, "error", err, "correlationId", middleware.GetCorrelationID(ctx))
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
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
