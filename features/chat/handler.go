package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"regchat/internal/index"
	"regchat/internal/middleware"
	"regchat/internal/pipeline"
	"regchat/internal/synth"
)

type Answerer interface {
	Answer(ctx context.Context, query string, k int, sourceFilter string) (*pipeline.Result, error)
}

type Request struct {
	Message      string `json:"message"`
	SourceFilter string `json:"source_filter,omitempty"`
	K            int    `json:"k,omitempty"`
}

type Handler struct {
	pipeline Answerer
	maxK     int
}

func NewHandler(p Answerer, maxK int) *Handler {
	if maxK <= 0 {
		maxK = 20
	}
	return &Handler{pipeline: p, maxK: maxK}
}

// Chat answers {message, source_filter?, k?} with
// {"data":{"response":...,"sources":[...]}}. A generation failure still
// carries data.sources next to the error.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Message is required", http.StatusBadRequest)
		return
	}
	if req.K < 0 || req.K > h.maxK {
		h.writeError(ctx, w, "VALIDATION_ERROR", "k out of range", http.StatusBadRequest)
		return
	}

	res, err := h.pipeline.Answer(ctx, req.Message, req.K, req.SourceFilter)
	if err != nil {
		slog.ErrorContext(ctx, "chat failed", "error", err)
		switch {
		case errors.Is(err, index.ErrInvalidQuery):
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		case errors.Is(err, index.ErrEmbedding):
			h.writeError(ctx, w, "EMBEDDING_ERROR", "Failed to embed the question", http.StatusBadGateway)
		case errors.Is(err, index.ErrStoreUnavailable):
			h.writeError(ctx, w, "STORE_UNAVAILABLE", "Vector store unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, synth.ErrGeneration) && res != nil:
			// callers can still show what was retrieved
			h.writeJSON(ctx, w, http.StatusBadGateway, map[string]any{
				"error": map[string]string{
					"code":    "GENERATION_ERROR",
					"message": "Failed to generate an answer",
				},
				"data":          map[string]any{"sources": res.Sources},
				"correlationId": middleware.GetCorrelationID(ctx),
			})
		default:
			h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to answer", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"data": res})
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
