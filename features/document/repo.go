package document

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, d *Document) error {
	query := `INSERT INTO documents (id, filename, path, status) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, d.ID, d.Filename, d.Path, d.Status).Scan(&d.CreatedAt, &d.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

const selectColumns = `SELECT id, filename, path, status, chunk_count, error, created_at, updated_at FROM documents`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	d := &Document{}
	if err := row.Scan(&d.ID, &d.Filename, &d.Path, &d.Status, &d.ChunkCount, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	return scanDocument(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id))
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateStatus returns sql.ErrNoRows when the document is not registered.
func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string, chunkCount int, errMsg string) error {
	query := `UPDATE documents SET status = $1, chunk_count = $2, error = $3, updated_at = NOW() WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, status, chunkCount, errMsg, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}
