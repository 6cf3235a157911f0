// Package ingest turns documents into indexed chunks: extract, chunk, embed
// and record the processed artifact, one document at a time per id.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"regchat/internal/index"
	"regchat/internal/lock"
	"regchat/internal/logger"
	"regchat/internal/text"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidDocumentID = errors.New("invalid document id")
)

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// DocumentID derives a stable id from a slash-separated name relative to the
// raw data dir: the lower-cased path without extension, with anything
// outside [a-z0-9_-] collapsed to "_". When that rewrite loses information
// (case, non-ASCII letters, spaces, directories) a short hash of the original
// name is appended, so distinct names never share an id.
func DocumentID(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	stem := strings.TrimSuffix(name, path.Ext(name))
	id := strings.Trim(unsafeIDChars.ReplaceAllString(strings.ToLower(stem), "_"), "_")
	if id == stem {
		return id
	}
	sum := sha256.Sum256([]byte(stem))
	suffix := hex.EncodeToString(sum[:4])
	if id == "" {
		return suffix
	}
	return id + "-" + suffix
}

func ValidDocumentID(id string) bool {
	return id != "" && !unsafeIDChars.MatchString(id)
}

type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type Indexer interface {
	Ingest(ctx context.Context, chunks []text.Chunk) error
	Documents(ctx context.Context) ([]index.DocumentSummary, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// DocumentInfo merges artifact and index views of one document.
type DocumentInfo struct {
	ID        string `json:"id"`
	Filename  string `json:"filename,omitempty"`
	Chunks    int    `json:"chunks"`
	Processed bool   `json:"processed"`
	Indexed   bool   `json:"indexed"`
}

type Service struct {
	chunker   *text.Chunker
	index     Indexer
	extractor Extractor
	artifacts *ArtifactStore
	locker    lock.Locker
}

func NewService(chunker *text.Chunker, idx Indexer, extractor Extractor, artifacts *ArtifactStore, locker lock.Locker) *Service {
	if locker == nil {
		locker = lock.NewKeyed()
	}
	return &Service{chunker: chunker, index: idx, extractor: extractor, artifacts: artifacts, locker: locker}
}

// IngestFile extracts a PDF and ingests it under documentID, or under the id
// derived from its base name when documentID is empty.
func (s *Service) IngestFile(ctx context.Context, path, documentID string) (int, error) {
	if documentID == "" {
		documentID = DocumentID(filepath.Base(path))
	}
	ctx = logger.WithDocumentID(ctx, documentID)

	body, err := s.extractor.Extract(ctx, path)
	if err != nil {
		slog.WarnContext(ctx, "extraction failed, document skipped", "path", path, "error", err)
		return 0, err
	}
	return s.IngestText(ctx, documentID, body, map[string]any{"filename": filepath.Base(path)})
}

// IngestText chunks and indexes body, superseding whatever was stored for
// documentID. The artifact is written only after the index accepted the
// batch. Empty text clears the document and records an empty artifact.
func (s *Service) IngestText(ctx context.Context, documentID, body string, metadata map[string]any) (int, error) {
	if !ValidDocumentID(documentID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDocumentID, documentID)
	}
	ctx = logger.WithDocumentID(ctx, documentID)

	unlock, err := s.locker.Lock(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", documentID, err)
	}
	defer unlock()

	start := time.Now()
	chunks := s.chunker.Chunk(documentID, body, metadata)
	if len(chunks) == 0 {
		if err := s.index.DeleteDocument(ctx, documentID); err != nil {
			return 0, err
		}
	} else if err := s.index.Ingest(ctx, chunks); err != nil {
		return 0, err
	}

	filename, _ := metadata["filename"].(string)
	art := &Artifact{
		DocumentID:   documentID,
		Filename:     filename,
		ChunkSize:    s.chunker.Size(),
		ChunkOverlap: s.chunker.Overlap(),
		CreatedAt:    time.Now().UTC(),
		Chunks:       chunks,
	}
	if art.Chunks == nil {
		art.Chunks = []text.Chunk{}
	}
	if err := s.artifacts.Write(art); err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "document ingested", "chunks", len(chunks), "duration", time.Since(start))
	return len(chunks), nil
}

// IsProcessed reports whether documentID has a processed artifact.
func (s *Service) IsProcessed(_ context.Context, documentID string) bool {
	return s.artifacts.Exists(documentID)
}

// ListDocuments joins artifacts with the index. A store failure is returned,
// never an empty list.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	indexed, err := s.index.Documents(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := s.artifacts.IDs()
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	byID := make(map[string]*DocumentInfo)
	for _, id := range ids {
		info := &DocumentInfo{ID: id, Processed: true}
		if art, err := s.artifacts.Read(id); err == nil {
			info.Filename = art.Filename
			info.Chunks = len(art.Chunks)
		} else {
			slog.WarnContext(ctx, "unreadable artifact", "document_id", id, "error", err)
		}
		byID[id] = info
	}
	for _, d := range indexed {
		info, ok := byID[d.ID]
		if !ok {
			info = &DocumentInfo{ID: d.ID}
			byID[d.ID] = info
		}
		info.Indexed = true
		info.Chunks = d.Chunks
	}

	out := make([]DocumentInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes a document's vectors and its artifact.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	unlock, err := s.locker.Lock(ctx, documentID)
	if err != nil {
		return fmt.Errorf("lock %s: %w", documentID, err)
	}
	defer unlock()

	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return s.artifacts.Delete(documentID)
}
