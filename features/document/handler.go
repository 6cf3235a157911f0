package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"regchat/internal/ingest"
	"regchat/internal/middleware"
)

type Handler struct {
	service     *Service
	maxUploadMB int64
}

func NewHandler(service *Service, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{service: service, maxUploadMB: maxUploadMB}
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	Status     string `json:"status"`
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "File too large or malformed form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	d, err := h.service.Upload(ctx, header.Filename, r.FormValue("document_id"), file)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupported), errors.Is(err, ingest.ErrInvalidDocumentID):
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrConflict):
			h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
		default:
			slog.ErrorContext(ctx, "upload failed", "filename", header.Filename, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to queue document", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, map[string]any{"data": uploadResponse{
		DocumentID: d.ID,
		Filename:   d.Filename,
		Status:     d.Status,
	}})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list documents", "error", err)
		h.writeError(ctx, w, "STORE_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := h.service.Get(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(ctx, w, "STORE_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"data": d})
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	d, err := h.service.Reindex(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "reindex failed", "document_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]any{"data": uploadResponse{
		DocumentID: d.ID,
		Filename:   d.Filename,
		ChunkCount: d.ChunkCount,
		Status:     d.Status,
	}})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := h.service.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "delete failed", "document_id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
