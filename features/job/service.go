package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"regchat/internal/config"
)

var (
	ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")
	ErrPublish        = errors.New("failed to requeue ingestion")
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: 5 * time.Second}
}

// WithPublishTimeout bounds how long Retry waits on the broker.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.publishTimeout = d
	return s
}

// List returns failed jobs newest first, only those of documentID when it
// is set.
func (s *Service) List(ctx context.Context, documentID string) ([]Job, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil || documentID == "" {
		return jobs, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.DocumentID == documentID {
			out = append(out, j)
		}
	}
	return out, nil
}

// Retry republishes the stored ingestion payload and drops the job once the
// broker accepted it. A job stays recorded if publishing fails.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// go-nsq Publish takes no context
	done := make(chan error, 1)
	go func() { done <- s.pub.Publish(config.TopicIngestDocument, j.Payload) }()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrPublish, j.DocumentID, err)
		}
	case <-time.After(s.publishTimeout):
		return nil, ErrPublishTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.logger.InfoContext(ctx, "ingestion requeued", "job_id", id, "document_id", j.DocumentID, "previous_error", j.Error)
	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
