package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"regchat/internal/text"
)

const artifactSuffix = "_chunks.json"

// Artifact is the on-disk record of one chunked document.
type Artifact struct {
	DocumentID   string       `json:"document_id"`
	Filename     string       `json:"filename,omitempty"`
	ChunkSize    int          `json:"chunk_size"`
	ChunkOverlap int          `json:"chunk_overlap"`
	CreatedAt    time.Time    `json:"created_at"`
	Chunks       []text.Chunk `json:"chunks"`
}

// ArtifactStore keeps one <document_id>_chunks.json per document in dir.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create processed dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) Dir() string { return s.dir }

func (s *ArtifactStore) path(documentID string) string {
	return filepath.Join(s.dir, documentID+artifactSuffix)
}

// Write replaces the artifact atomically through a temp file and rename.
func (s *ArtifactStore) Write(a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+a.DocumentID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(a.DocumentID)); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) Read(documentID string) (*Artifact, error) {
	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("corrupted artifact %s: %w", documentID, err)
	}
	return &a, nil
}

func (s *ArtifactStore) Exists(documentID string) bool {
	_, err := os.Stat(s.path(documentID))
	return err == nil
}

func (s *ArtifactStore) Delete(documentID string) error {
	err := os.Remove(s.path(documentID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IDs lists document ids that have an artifact, sorted.
func (s *ArtifactStore) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, artifactSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, artifactSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}
