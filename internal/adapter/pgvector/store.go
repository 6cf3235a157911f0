// Package pgvector stores chunk embeddings in Postgres using the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	pgv "github.com/pgvector/pgvector-go"

	"regchat/internal/index"
	"regchat/internal/text"
)

// Store keeps one collection's records in the chunk_embeddings table.
// Records are keyed by (collection, chunk_id); seq preserves insertion order
// for tie-breaking.
type Store struct {
	db         *sql.DB
	collection string
}

func NewStore(db *sql.DB, collection string) *Store {
	return &Store{db: db, collection: collection}
}

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS chunk_embeddings (
		collection  TEXT NOT NULL,
		chunk_id    TEXT NOT NULL,
		document_id TEXT NOT NULL,
		source      TEXT NOT NULL,
		ordinal     INTEGER NOT NULL,
		content     TEXT NOT NULL,
		metadata    JSONB NOT NULL DEFAULT '{}',
		embedding   vector NOT NULL,
		seq         BIGSERIAL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, chunk_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_document ON chunk_embeddings (collection, document_id)`,
}

// EnsureSchema creates the extension and table when missing. It only runs
// for the pgvector backend, so other deployments never need the extension.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

const upsertQuery = `INSERT INTO chunk_embeddings (collection, chunk_id, document_id, source, ordinal, content, metadata, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (collection, chunk_id) DO UPDATE SET document_id = EXCLUDED.document_id, source = EXCLUDED.source, ordinal = EXCLUDED.ordinal, content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, updated_at = NOW()`

// Upsert writes the batch in one transaction.
func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		source := r.DocumentID
		if v, ok := r.Metadata[text.MetaSource].(string); ok && v != "" {
			source = v
		}
		if _, err := tx.ExecContext(ctx, upsertQuery,
			s.collection, r.ID, r.DocumentID, source, r.Ordinal, r.Text, meta, pgv.NewVector(r.Vector),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Search orders by cosine distance. A source filter uses the source column;
// other keys are matched against the metadata JSON as text.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter index.Filter) ([]index.ScoredChunk, error) {
	query, args := s.searchQuery(vector, k, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []index.ScoredChunk
	for rows.Next() {
		var (
			r    index.ScoredChunk
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Ordinal, &r.Text, &meta, &r.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("corrupted metadata for %s: %w", r.ID, err)
		}
		if _, ok := r.Metadata[text.MetaOrdinal]; ok {
			r.Metadata[text.MetaOrdinal] = r.Ordinal
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) searchQuery(vector []float32, k int, filter index.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT chunk_id, document_id, ordinal, content, metadata, 1 - (embedding <=> $2) AS score FROM chunk_embeddings WHERE collection = $1`)
	args := []any{s.collection, pgv.NewVector(vector)}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if key == text.MetaSource {
			args = append(args, filter[key])
			fmt.Fprintf(&b, " AND source = $%d", len(args))
			continue
		}
		args = append(args, key, filter[key])
		fmt.Fprintf(&b, " AND metadata->>$%d = $%d", len(args)-1, len(args))
	}

	args = append(args, k)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $2, seq LIMIT $%d", len(args))
	return b.String(), args
}

func (s *Store) DeleteStale(ctx context.Context, documentID string, keep int) error {
	query := `DELETE FROM chunk_embeddings WHERE collection = $1 AND document_id = $2 AND ordinal >= $3`
	_, err := s.db.ExecContext(ctx, query, s.collection, documentID, keep)
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	query := `DELETE FROM chunk_embeddings WHERE collection = $1 AND document_id = $2`
	_, err := s.db.ExecContext(ctx, query, s.collection, documentID)
	return err
}

func (s *Store) Documents(ctx context.Context) ([]index.DocumentSummary, error) {
	query := `SELECT document_id, COUNT(*) FROM chunk_embeddings WHERE collection = $1 GROUP BY document_id ORDER BY document_id`
	rows, err := s.db.QueryContext(ctx, query, s.collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []index.DocumentSummary
	for rows.Next() {
		var d index.DocumentSummary
		if err := rows.Scan(&d.ID, &d.Chunks); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM chunk_embeddings WHERE collection = $1`
	err := s.db.QueryRowContext(ctx, query, s.collection).Scan(&count)
	return count, err
}
