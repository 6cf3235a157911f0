package document_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"regchat/features/document"
	"regchat/internal/config"
	"regchat/internal/ingest"
	"regchat/internal/middleware"
	"regchat/internal/worker"
)

type fixture struct {
	repo *MockRepo
	ing  *MockIngester
	pub  *MockPublisher
	dir  string
	svc  *document.Service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{repo: new(MockRepo), ing: new(MockIngester), pub: new(MockPublisher), dir: filepath.Join(t.TempDir(), "raw")}
	f.svc = document.NewService(f.repo, f.pub, f.ing, f.dir)
	return f
}

func TestService_Upload(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		ctx := middleware.WithCorrelationID(context.Background(), "corr-9")
		id := ingest.DocumentID("Quy Che 2024.pdf")
		f.repo.On("Create", ctx, mock.MatchedBy(func(d *document.Document) bool {
			return d.ID == id && d.Status == ingest.StatusProcessing && d.Filename == "Quy Che 2024.pdf"
		})).Return(nil)

		var sent worker.IngestDocumentPayload
		f.pub.On("Publish", config.TopicIngestDocument, mock.Anything).Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &sent))
		}).Return(nil)

		d, err := f.svc.Upload(ctx, "Quy Che 2024.pdf", "", strings.NewReader("%PDF-1.4"))
		require.NoError(t, err)
		assert.Equal(t, id, d.ID)

		data, err := os.ReadFile(filepath.Join(f.dir, id+".pdf"))
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(data))
		assert.Equal(t, worker.IngestDocumentPayload{
			DocumentID:    id,
			Filename:      "Quy Che 2024.pdf",
			Path:          filepath.Join(f.dir, id+".pdf"),
			CorrelationID: "corr-9",
		}, sent)
	})

	t.Run("Explicit ID", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(d *document.Document) bool { return d.ID == "hoc_phi" })).Return(nil)
		f.pub.On("Publish", config.TopicIngestDocument, mock.Anything).Return(nil)

		d, err := f.svc.Upload(context.Background(), "x.PDF", "hoc_phi", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, "hoc_phi", d.ID)
	})

	t.Run("Not A PDF", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Upload(context.Background(), "notes.docx", "", strings.NewReader("x"))
		assert.ErrorIs(t, err, document.ErrUnsupported)
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Invalid ID", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Upload(context.Background(), "a.pdf", "Bad ID", strings.NewReader("x"))
		assert.ErrorIs(t, err, ingest.ErrInvalidDocumentID)
	})

	t.Run("Different Filename Conflicts", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.MkdirAll(f.dir, 0o750))
		existing := filepath.Join(f.dir, "reg.pdf")
		require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))
		f.repo.On("Create", mock.Anything, mock.Anything).Return(document.ErrConflict)
		f.repo.On("Get", mock.Anything, "reg").Return(&document.Document{ID: "reg", Filename: "other.pdf", Path: existing}, nil)

		_, err := f.svc.Upload(context.Background(), "x.pdf", "reg", strings.NewReader("new"))
		assert.ErrorIs(t, err, document.ErrConflict)
		data, _ := os.ReadFile(existing)
		assert.Equal(t, "old", string(data))
		f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("Same Filename Supersedes", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.MkdirAll(f.dir, 0o750))
		name := "Quy Che 2024.pdf"
		id := ingest.DocumentID(name)
		existing := filepath.Join(f.dir, id+".pdf")
		require.NoError(t, os.WriteFile(existing, []byte("noi dung 2023"), 0o644))
		created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

		f.repo.On("Create", mock.Anything, mock.Anything).Return(document.ErrConflict)
		f.repo.On("Get", mock.Anything, id).Return(&document.Document{ID: id, Filename: name, Path: existing, ChunkCount: 4, CreatedAt: created}, nil)
		f.repo.On("UpdateStatus", mock.Anything, id, ingest.StatusProcessing, 4, "").Return(nil)
		var sent worker.IngestDocumentPayload
		f.pub.On("Publish", config.TopicIngestDocument, mock.Anything).Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &sent))
		}).Return(nil)

		d, err := f.svc.Upload(context.Background(), name, "", strings.NewReader("noi dung 2024"))
		require.NoError(t, err)
		assert.Equal(t, id, d.ID)
		assert.Equal(t, ingest.StatusProcessing, d.Status)
		assert.Equal(t, created, d.CreatedAt)

		data, err := os.ReadFile(existing)
		require.NoError(t, err)
		assert.Equal(t, "noi dung 2024", string(data))
		assert.Equal(t, id, sent.DocumentID)
		assert.Equal(t, existing, sent.Path)
		f.repo.AssertExpectations(t)
	})

	t.Run("Conflict Lookup Fails", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Create", mock.Anything, mock.Anything).Return(document.ErrConflict)
		f.repo.On("Get", mock.Anything, "reg").Return(nil, errors.New("db down"))

		_, err := f.svc.Upload(context.Background(), "reg.pdf", "", strings.NewReader("x"))
		assert.EqualError(t, err, "db down")
	})

	t.Run("Publish Failure Marks Failed", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
		f.pub.On("Publish", config.TopicIngestDocument, mock.Anything).Return(errors.New("nsq down"))
		f.repo.On("UpdateStatus", mock.Anything, "reg", ingest.StatusFailed, 0, "enqueue failed: nsq down").Return(nil)

		_, err := f.svc.Upload(context.Background(), "reg.pdf", "", strings.NewReader("x"))
		assert.Error(t, err)
		f.repo.AssertExpectations(t)
	})
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	updated := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	f.repo.On("List", mock.Anything).Return([]document.Document{
		{ID: "b", Filename: "b.pdf", Status: ingest.StatusProcessed, ChunkCount: 2, UpdatedAt: updated},
		{ID: "c", Filename: "c.pdf", Status: ingest.StatusFailed, Error: "no text layer", UpdatedAt: updated},
	}, nil)
	f.ing.On("ListDocuments", mock.Anything).Return([]ingest.DocumentInfo{
		{ID: "a", Filename: "a.pdf", Chunks: 4, Processed: true, Indexed: true},
		{ID: "b", Chunks: 3, Processed: true, Indexed: true},
		{ID: "d", Chunks: 1, Indexed: true},
	}, nil)

	views, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 4)

	assert.Equal(t, document.View{ID: "a", Filename: "a.pdf", Status: ingest.StatusProcessed, ChunkCount: 4, Indexed: true}, views[0])
	assert.Equal(t, ingest.StatusProcessed, views[1].Status)
	assert.Equal(t, 3, views[1].ChunkCount, "index count wins once indexed")
	assert.Equal(t, ingest.StatusFailed, views[2].Status)
	assert.Equal(t, "no text layer", views[2].Error)
	assert.Equal(t, ingest.StatusPending, views[3].Status)

	n, err := f.svc.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestService_List_StoreError(t *testing.T) {
	f := newFixture(t)
	f.repo.On("List", mock.Anything).Return([]document.Document{}, nil)
	f.ing.On("ListDocuments", mock.Anything).Return(nil, errors.New("store unavailable"))

	_, err := f.svc.List(context.Background())
	assert.Error(t, err)
}

func TestService_Get(t *testing.T) {
	f := newFixture(t)
	f.repo.On("List", mock.Anything).Return(nil, nil)
	f.ing.On("ListDocuments", mock.Anything).Return([]ingest.DocumentInfo{{ID: "a", Processed: true}}, nil)

	v, err := f.svc.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", v.ID)

	_, err = f.svc.Get(context.Background(), "zzz")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestService_Reindex(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.MkdirAll(f.dir, 0o750))
		path := filepath.Join(f.dir, "reg.pdf")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		f.repo.On("Get", mock.Anything, "reg").Return(&document.Document{ID: "reg", Path: path, Status: ingest.StatusFailed, ChunkCount: 3, Error: "old"}, nil)
		f.repo.On("UpdateStatus", mock.Anything, "reg", ingest.StatusProcessing, 3, "").Return(nil)
		f.pub.On("Publish", config.TopicIngestDocument, mock.Anything).Return(nil)

		d, err := f.svc.Reindex(context.Background(), "reg")
		require.NoError(t, err)
		assert.Equal(t, ingest.StatusProcessing, d.Status)
		assert.Empty(t, d.Error)
	})

	t.Run("Unknown", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Get", mock.Anything, "nope").Return(nil, sql.ErrNoRows)
		_, err := f.svc.Reindex(context.Background(), "nope")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("Raw File Missing", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Get", mock.Anything, "reg").Return(&document.Document{ID: "reg", Path: filepath.Join(f.dir, "gone.pdf")}, nil)
		_, err := f.svc.Reindex(context.Background(), "reg")
		assert.ErrorIs(t, err, os.ErrNotExist)
		f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestService_Delete(t *testing.T) {
	t.Run("Registered", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.MkdirAll(f.dir, 0o750))
		path := filepath.Join(f.dir, "reg.pdf")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		f.repo.On("Get", mock.Anything, "reg").Return(&document.Document{ID: "reg", Path: path}, nil)
		f.ing.On("Delete", mock.Anything, "reg").Return(nil)
		f.repo.On("Delete", mock.Anything, "reg").Return(nil)

		require.NoError(t, f.svc.Delete(context.Background(), "reg"))
		_, err := os.Stat(path)
		assert.ErrorIs(t, err, os.ErrNotExist)
		f.repo.AssertExpectations(t)
		f.ing.AssertExpectations(t)
	})

	t.Run("CLI Ingested Only", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Get", mock.Anything, "cli").Return(nil, sql.ErrNoRows)
		f.repo.On("List", mock.Anything).Return(nil, nil)
		f.ing.On("ListDocuments", mock.Anything).Return([]ingest.DocumentInfo{{ID: "cli", Processed: true}}, nil)
		f.ing.On("Delete", mock.Anything, "cli").Return(nil)

		require.NoError(t, f.svc.Delete(context.Background(), "cli"))
		f.repo.AssertNotCalled(t, "Delete", mock.Anything, "cli")
	})

	t.Run("Unknown", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Get", mock.Anything, "x").Return(nil, sql.ErrNoRows)
		f.repo.On("List", mock.Anything).Return(nil, nil)
		f.ing.On("ListDocuments", mock.Anything).Return(nil, nil)

		assert.ErrorIs(t, f.svc.Delete(context.Background(), "x"), sql.ErrNoRows)
	})
}
