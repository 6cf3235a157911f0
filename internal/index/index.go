// Package index embeds chunks and keeps them in a similarity-searchable vector store.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"regchat/internal/text"
)

var (
	ErrEmbedding        = errors.New("embedding error")
	ErrStoreUnavailable = errors.New("vector store unavailable")
	ErrInvalidQuery     = errors.New("invalid query")
)

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Record is a chunk with its unit-length embedding.
type Record struct {
	text.Chunk
	Vector []float32 `json:"-"`
}

// ScoredChunk is a search hit. Score is cosine similarity, higher is closer.
type ScoredChunk struct {
	text.Chunk
	Score float32 `json:"score"`
}

// Source returns the source document id recorded in the chunk metadata,
// falling back to the chunk's document id.
func (s ScoredChunk) Source() string {
	if v, ok := s.Metadata[text.MetaSource].(string); ok && v != "" {
		return v
	}
	return s.DocumentID
}

// Filter restricts a search to records whose metadata equals every entry.
type Filter map[string]string

// Matches reports whether meta satisfies every key of f.
func (f Filter) Matches(meta map[string]any) bool {
	for k, want := range f {
		got, ok := meta[k]
		if !ok {
			return false
		}
		if s, isStr := got.(string); isStr {
			if s != want {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

type DocumentSummary struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
}

// VectorStore persists records keyed by chunk id. Upsert must be atomic per
// record and durable once it returns.
type VectorStore interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]ScoredChunk, error)
	// DeleteStale removes records of documentID whose ordinal is >= keep.
	DeleteStale(ctx context.Context, documentID string, keep int) error
	DeleteDocument(ctx context.Context, documentID string) error
	Documents(ctx context.Context) ([]DocumentSummary, error)
	Count(ctx context.Context) (int, error)
}

type Options struct {
	Concurrency  int
	EmbedTimeout time.Duration
	StoreTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

type Index struct {
	embedder Embedder
	store    VectorStore
	opts     Options
}

func New(e Embedder, s VectorStore, opts Options) *Index {
	return &Index{embedder: e, store: s, opts: opts.withDefaults()}
}

// Ingest embeds and upserts chunks. Any embedding failure rejects the whole
// batch before anything is written. After the upsert, records of the same
// documents beyond the new chunk count are removed so a shorter re-ingest
// supersedes the old one.
func (i *Index) Ingest(ctx context.Context, chunks []text.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.opts.Concurrency)
	for n, ch := range chunks {
		g.Go(func() error {
			v, err := i.embed(gctx, ch.Text)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", ch.ID, err)
			}
			vectors[n] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "embedding batch rejected", "chunks", len(chunks), "error", err)
		return err
	}

	dim := len(vectors[0])
	records := make([]Record, len(chunks))
	keep := make(map[string]int)
	for n, ch := range chunks {
		if len(vectors[n]) != dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, want %d", ErrEmbedding, ch.ID, len(vectors[n]), dim)
		}
		records[n] = Record{Chunk: ch, Vector: vectors[n]}
		if ch.Ordinal+1 > keep[ch.DocumentID] {
			keep[ch.DocumentID] = ch.Ordinal + 1
		}
	}

	sctx, cancel := i.storeContext(ctx)
	defer cancel()

	if err := i.store.Upsert(sctx, records); err != nil {
		return storeError(err)
	}
	for docID, n := range keep {
		if err := i.store.DeleteStale(sctx, docID, n); err != nil {
			return storeError(err)
		}
	}

	slog.InfoContext(ctx, "chunks indexed", "chunks", len(records), "documents", len(keep), "dimension", dim)
	return nil
}

// Query returns up to k records closest to queryText, ordered by descending
// score with ties kept in store order.
func (i *Index) Query(ctx context.Context, queryText string, k int, filter Filter) ([]ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidQuery, k)
	}

	vec, err := i.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	sctx, cancel := i.storeContext(ctx)
	defer cancel()

	results, err := i.store.Search(sctx, vec, k, filter)
	if err != nil {
		return nil, storeError(err)
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Documents lists indexed document ids with their chunk counts.
func (i *Index) Documents(ctx context.Context) ([]DocumentSummary, error) {
	sctx, cancel := i.storeContext(ctx)
	defer cancel()

	docs, err := i.store.Documents(sctx)
	if err != nil {
		return nil, storeError(err)
	}
	sort.Slice(docs, func(a, b int) bool { return docs[a].ID < docs[b].ID })
	return docs, nil
}

func (i *Index) IsIndexed(ctx context.Context, documentID string) (bool, error) {
	docs, err := i.Documents(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range docs {
		if d.ID == documentID {
			return d.Chunks > 0, nil
		}
	}
	return false, nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	sctx, cancel := i.storeContext(ctx)
	defer cancel()

	n, err := i.store.Count(sctx)
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (i *Index) DeleteDocument(ctx context.Context, documentID string) error {
	sctx, cancel := i.storeContext(ctx)
	defer cancel()

	if err := i.store.DeleteDocument(sctx, documentID); err != nil {
		return storeError(err)
	}
	return nil
}

func (i *Index) embed(ctx context.Context, s string) ([]float32, error) {
	if i.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.EmbedTimeout)
		defer cancel()
	}

	v, err := i.embedder.Embed(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	unit, err := Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return unit, nil
}

func (i *Index) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, i.opts.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func storeError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
