package document_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"regchat/features/document"
	"regchat/internal/ingest"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Create(ctx context.Context, d *document.Document) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}
func (m *MockRepo) List(ctx context.Context) ([]document.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}
func (m *MockRepo) UpdateStatus(ctx context.Context, id, status string, chunkCount int, errMsg string) error {
	return m.Called(ctx, id, status, chunkCount, errMsg).Error(0)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockIngester struct{ mock.Mock }

func (m *MockIngester) ListDocuments(ctx context.Context) ([]ingest.DocumentInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ingest.DocumentInfo), args.Error(1)
}
func (m *MockIngester) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}
