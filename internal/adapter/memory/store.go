// Package memory is an in-process VectorStore. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"regchat/internal/index"
	"regchat/internal/text"
)

type entry struct {
	rec index.Record
	seq int64
}

type Store struct {
	mu      sync.RWMutex
	records map[string]*entry
	seq     int64
}

func NewStore() *Store {
	return &Store{records: make(map[string]*entry)}
}

// Upsert replaces records by chunk id. An overwritten record keeps its
// original insertion position for tie-breaking.
func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		cp := cloneRecord(r)
		if e, ok := s.records[r.ID]; ok {
			e.rec = cp
			continue
		}
		s.seq++
		s.records[r.ID] = &entry{rec: cp, seq: s.seq}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, k int, filter index.Filter) ([]index.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		res index.ScoredChunk
		seq int64
	}
	hits := make([]hit, 0, len(s.records))
	for _, e := range s.records {
		if !filter.Matches(e.rec.Metadata) {
			continue
		}
		hits = append(hits, hit{
			res: index.ScoredChunk{Chunk: cloneChunk(e.rec.Chunk), Score: index.Cosine(vector, e.rec.Vector)},
			seq: e.seq,
		})
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].res.Score != hits[b].res.Score {
			return hits[a].res.Score > hits[b].res.Score
		}
		return hits[a].seq < hits[b].seq
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	out := make([]index.ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = h.res
	}
	return out, nil
}

func (s *Store) DeleteStale(ctx context.Context, documentID string, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.records {
		if e.rec.DocumentID == documentID && e.rec.Ordinal >= keep {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	return s.DeleteStale(ctx, documentID, 0)
}

func (s *Store) Documents(ctx context.Context) ([]index.DocumentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range s.records {
		counts[e.rec.DocumentID]++
	}
	docs := make([]index.DocumentSummary, 0, len(counts))
	for id, n := range counts {
		docs = append(docs, index.DocumentSummary{ID: id, Chunks: n})
	}
	sort.Slice(docs, func(a, b int) bool { return docs[a].ID < docs[b].ID })
	return docs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Vector returns a copy of the stored vector for chunkID.
func (s *Store) Vector(chunkID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[chunkID]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), e.rec.Vector...), true
}

func cloneChunk(c text.Chunk) text.Chunk {
	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	c.Metadata = meta
	return c
}

func cloneRecord(r index.Record) index.Record {
	return index.Record{Chunk: cloneChunk(r.Chunk), Vector: append([]float32(nil), r.Vector...)}
}
