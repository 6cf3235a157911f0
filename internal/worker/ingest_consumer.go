// Package worker consumes queued ingestion work from NSQ.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"regchat/features/job"
	"regchat/internal/extract"
	"regchat/internal/ingest"
	"regchat/internal/logger"
	"regchat/internal/middleware"
)

const handlerName = "ingest-worker"

type DocumentIngester interface {
	IngestFile(ctx context.Context, path, documentID string) (int, error)
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id, status string, chunkCount int, errMsg string) error
}

type JobRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}

// IngestConsumer runs one document through extraction and indexing per
// message. Malformed messages and documents without extractable text are
// acked; other failures requeue until maxAttempts, then land in failed_jobs.
type IngestConsumer struct {
	ingester    DocumentIngester
	status      StatusUpdater
	jobs        JobRecorder
	maxAttempts uint16
}

func NewIngestConsumer(i DocumentIngester, s StatusUpdater, j JobRecorder, maxAttempts uint16) *IngestConsumer {
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	return &IngestConsumer{ingester: i, status: s, jobs: j, maxAttempts: maxAttempts}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestDocumentPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid json", "error", err)
		return nil
	}
	if payload.DocumentID == "" || payload.Path == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "document_id", payload.DocumentID, "path", payload.Path)
		return nil
	}
	ctx = logger.WithDocumentID(ctx, payload.DocumentID)

	h.setStatus(ctx, payload.DocumentID, ingest.StatusProcessing, 0, "")

	n, err := h.ingester.IngestFile(ctx, payload.Path, payload.DocumentID)
	if err == nil {
		h.setStatus(ctx, payload.DocumentID, ingest.StatusProcessed, n, "")
		return nil
	}

	if errors.Is(err, extract.ErrExtraction) || errors.Is(err, ingest.ErrInvalidDocumentID) {
		slog.WarnContext(ctx, "document skipped", "error", err)
		h.setStatus(ctx, payload.DocumentID, ingest.StatusFailed, 0, err.Error())
		return nil
	}

	if m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "ingestion failed, requeueing", "attempt", m.Attempts, "error", err)
		return err
	}

	slog.ErrorContext(ctx, "ingestion failed, attempts exhausted", "attempt", m.Attempts, "error", err)
	h.setStatus(ctx, payload.DocumentID, ingest.StatusFailed, 0, err.Error())
	failed := &job.Job{
		DocumentID: payload.DocumentID,
		Handler:    handlerName,
		Payload:    json.RawMessage(m.Body),
		Error:      err.Error(),
		Retries:    int(m.Attempts),
	}
	if saveErr := h.jobs.Save(ctx, failed); saveErr != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", saveErr)
	} else {
		slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
	}
	return nil
}

func (h *IngestConsumer) setStatus(ctx context.Context, id, status string, chunks int, errMsg string) {
	if err := h.status.UpdateStatus(ctx, id, status, chunks, errMsg); err != nil {
		slog.WarnContext(ctx, "failed to update document status", "status", status, "error", err)
	}
}
