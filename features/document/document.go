package document

import (
	"context"
	"errors"
	"time"

	"regchat/internal/ingest"
)

var (
	ErrConflict    = errors.New("document id already registered")
	ErrUnsupported = errors.New("only PDF files are supported")
)

// Document is a registry row for an uploaded file.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"-"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// View is a document as listed: registry state merged with the processed
// artifacts and the index, so documents ingested from the CLI show up too.
type View struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename,omitempty"`
	Status     string     `json:"status"`
	ChunkCount int        `json:"chunk_count"`
	Indexed    bool       `json:"indexed"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

type Repository interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	UpdateStatus(ctx context.Context, id, status string, chunkCount int, errMsg string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type Ingester interface {
	ListDocuments(ctx context.Context) ([]ingest.DocumentInfo, error)
	Delete(ctx context.Context, documentID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}
