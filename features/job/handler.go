package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"regchat/internal/logger"
	"regchat/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type retryResponse struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// List serves failed ingestion jobs, optionally narrowed by ?document_id=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := r.URL.Query().Get("document_id")
	if documentID != "" {
		ctx = logger.WithDocumentID(ctx, documentID)
	}

	jobs, err := h.service.List(ctx, documentID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failed jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to list failed jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	})
}

// Retry requeues the document a failed job belongs to.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.service.Retry(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.writeError(ctx, w, "NOT_FOUND", "Failed job "+id+" not found", http.StatusNotFound)
		case errors.Is(err, ErrPublishTimeout), errors.Is(err, ErrPublish):
			slog.WarnContext(ctx, "failed to requeue job", "job_id", id, "error", err)
			h.writeError(ctx, w, "QUEUE_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
		default:
			slog.ErrorContext(ctx, "failed to retry job", "job_id", id, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to retry job", http.StatusInternalServerError)
		}
		return
	}

	ctx = logger.WithDocumentID(ctx, j.DocumentID)
	slog.InfoContext(ctx, "document requeued from failed job", "job_id", id)
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]any{"data": retryResponse{
		JobID:      id,
		DocumentID: j.DocumentID,
		Status:     "requeued",
	}})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
