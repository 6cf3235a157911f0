package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"regchat/internal/config"
	"regchat/internal/ingest"
	"regchat/internal/middleware"
	"regchat/internal/worker"
)

type Service struct {
	repo     Repository
	pub      EventPublisher
	ingester Ingester
	rawDir   string
}

func NewService(repo Repository, pub EventPublisher, ingester Ingester, rawDir string) *Service {
	return &Service{repo: repo, pub: pub, ingester: ingester, rawDir: rawDir}
}

// Upload registers the PDF, stores it under the raw data dir and queues it
// for ingestion. Uploading the same filename under a registered id replaces
// the stored file and re-ingests it; a different filename on that id is
// ErrConflict.
func (s *Service) Upload(ctx context.Context, filename, documentID string, content io.Reader) (*Document, error) {
	filename = filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, ErrUnsupported
	}
	if documentID == "" {
		documentID = ingest.DocumentID(filename)
	}
	if !ingest.ValidDocumentID(documentID) {
		return nil, fmt.Errorf("%w: %q", ingest.ErrInvalidDocumentID, documentID)
	}
	if err := os.MkdirAll(s.rawDir, 0o750); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}

	d := &Document{
		ID:       documentID,
		Filename: filename,
		Path:     filepath.Join(s.rawDir, documentID+".pdf"),
		Status:   ingest.StatusProcessing,
	}
	replaced := false
	if err := s.repo.Create(ctx, d); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		existing, getErr := s.repo.Get(ctx, documentID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Filename != filename {
			return nil, fmt.Errorf("%w: %s belongs to %s", ErrConflict, documentID, existing.Filename)
		}
		if err := s.repo.UpdateStatus(ctx, documentID, ingest.StatusProcessing, existing.ChunkCount, ""); err != nil {
			return nil, err
		}
		if existing.Path != "" {
			d.Path = existing.Path
		}
		d.ChunkCount = existing.ChunkCount
		d.CreatedAt = existing.CreatedAt
		replaced = true
		slog.InfoContext(ctx, "replacing uploaded document", "document_id", documentID, "filename", filename)
	}

	if err := writeFile(s.rawDir, d.Path, content); err != nil {
		if replaced {
			if upErr := s.repo.UpdateStatus(ctx, d.ID, ingest.StatusFailed, d.ChunkCount, err.Error()); upErr != nil {
				slog.WarnContext(ctx, "failed to mark document failed", "document_id", d.ID, "error", upErr)
			}
		} else if delErr := s.repo.Delete(ctx, d.ID); delErr != nil {
			slog.WarnContext(ctx, "failed to roll back registration", "document_id", d.ID, "error", delErr)
		}
		return nil, err
	}

	if err := s.enqueue(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func writeFile(dir, path string, content io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Service) enqueue(ctx context.Context, d *Document) error {
	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "unknown" {
		correlationID = ""
	}
	body, err := json.Marshal(worker.IngestDocumentPayload{
		DocumentID:    d.ID,
		Filename:      d.Filename,
		Path:          d.Path,
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}

	if err := s.pub.Publish(config.TopicIngestDocument, body); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue document", "document_id", d.ID, "error", err)
		if upErr := s.repo.UpdateStatus(ctx, d.ID, ingest.StatusFailed, 0, "enqueue failed: "+err.Error()); upErr != nil {
			slog.WarnContext(ctx, "failed to mark document failed", "document_id", d.ID, "error", upErr)
		}
		return err
	}
	return nil
}

// List merges registry rows with artifacts and index contents. Documents
// without a registry row are processed when an artifact exists and pending
// otherwise.
func (s *Service) List(ctx context.Context) ([]View, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := s.ingester.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	views := make(map[string]*View, len(rows)+len(infos))
	for _, d := range rows {
		updated := d.UpdatedAt
		views[d.ID] = &View{ID: d.ID, Filename: d.Filename, Status: d.Status, ChunkCount: d.ChunkCount, Error: d.Error, UpdatedAt: &updated}
	}
	for _, info := range infos {
		v, ok := views[info.ID]
		if !ok {
			v = &View{ID: info.ID, Filename: info.Filename, Status: ingest.StatusPending}
			if info.Processed {
				v.Status = ingest.StatusProcessed
			}
			views[info.ID] = v
		}
		v.Indexed = info.Indexed
		if info.Indexed {
			v.ChunkCount = info.Chunks
		}
	}

	out := make([]View, 0, len(views))
	for _, v := range views {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns sql.ErrNoRows for ids nobody knows about.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	views, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if views[i].ID == id {
			return &views[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

// Reindex queues a registered document again. Its previous chunks are
// superseded once the worker finishes.
func (s *Service) Reindex(ctx context.Context, id string) (*Document, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(d.Path); err != nil {
		return nil, fmt.Errorf("raw file for %s: %w", id, err)
	}
	if err := s.repo.UpdateStatus(ctx, id, ingest.StatusProcessing, d.ChunkCount, ""); err != nil {
		return nil, err
	}
	d.Status = ingest.StatusProcessing
	d.Error = ""
	if err := s.enqueue(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes vectors, artifact, raw file and registry row.
func (s *Service) Delete(ctx context.Context, id string) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if d == nil {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}

	if err := s.ingester.Delete(ctx, id); err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove raw file", "document_id", id, "error", err)
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	views, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(views), nil
}
