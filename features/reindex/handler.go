package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"mediasearch/backend/internal/middleware"
	engine "mediasearch/backend/internal/reindex"
)

const maxBodyBytes = 1 << 20

type Reindexer interface {
	Reindex(ctx context.Context, selectors []engine.Selector) (*engine.Run, error)
}

type Handler struct {
	reindexer Reindexer
}

func NewHandler(r Reindexer) *Handler {
	return &Handler{reindexer: r}
}

// Request selects the media to rebuild. An empty body or empty list rebuilds everything.
type Request struct {
	Media []engine.Selector `json:"media"`
}

type RunStats struct {
	TotalSegments     int `json:"totalSegments"`
	SuccessfulIndexes int `json:"successfulIndexes"`
	FailedIndexes     int `json:"failedIndexes"`
	MediaProcessed    int `json:"mediaProcessed"`
}

type Response struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Stats   RunStats           `json:"stats"`
	Errors  []engine.ItemError `json:"errors"`
}

func toResponse(run *engine.Run) Response {
	return Response{
		Success: run.Success,
		Message: run.Message(),
		Stats: RunStats{
			TotalSegments:     run.TotalSegments,
			SuccessfulIndexes: run.SuccessfulIndexes,
			FailedIndexes:     run.FailedIndexes,
			MediaProcessed:    run.MediaProcessed,
		},
		Errors: run.Errors,
	}
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}
	for _, sel := range req.Media {
		if sel.MediaID <= 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "mediaId must be positive", http.StatusBadRequest)
			return
		}
	}

	slog.InfoContext(ctx, "reindex requested", "media", len(req.Media), "correlationId", correlationID)

	run, err := h.reindexer.Reindex(ctx, req.Media)
	if err != nil {
		slog.ErrorContext(ctx, "reindex aborted", "error", err, "correlationId", correlationID)
		if run == nil {
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
			return
		}
		h.writePartial(ctx, w, run, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": toResponse(run)}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writePartial reports a run that stopped early together with what it already rebuilt.
func (h *Handler) writePartial(ctx context.Context, w http.ResponseWriter, run *engine.Run, cause error) {
	partial := toResponse(run)
	partial.Success = false
	partial.Message = cause.Error()
	if partial.Errors == nil {
		partial.Errors = []engine.ItemError{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	resp := map[string]interface{}{
		"data": partial,
		"error": map[string]string{
			"code":    "INTERNAL_ERROR",
			"message": cause.Error(),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
