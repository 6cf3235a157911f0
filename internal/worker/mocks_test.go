package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"regchat/features/job"
)

type MockIngester struct{ mock.Mock }

func (m *MockIngester) IngestFile(ctx context.Context, path, documentID string) (int, error) {
	args := m.Called(ctx, path, documentID)
	return args.Int(0), args.Error(1)
}

type MockStatusUpdater struct{ mock.Mock }

func (m *MockStatusUpdater) UpdateStatus(ctx context.Context, id, status string, chunkCount int, errMsg string) error {
	return m.Called(ctx, id, status, chunkCount, errMsg).Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}
