package worker_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"regchat/internal/config"
	"regchat/internal/ingest"
	"regchat/internal/testutils"
	"regchat/internal/worker"
)

func TestIngestTopic_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ing, st, jobs := new(MockIngester), new(MockStatusUpdater), new(MockJobRepo)
	done := make(chan struct{})
	ing.On("IngestFile", mock.Anything, payload.Path, payload.DocumentID).Return(2, nil)
	st.On("UpdateStatus", mock.Anything, "quy_che", ingest.StatusProcessing, 0, "").Return(nil)
	st.On("UpdateStatus", mock.Anything, "quy_che", ingest.StatusProcessed, 2, "").Return(nil).Run(func(mock.Arguments) { close(done) })

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, "test-ingest", nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(worker.NewIngestConsumer(ing, st, jobs, 3))
	require.NoError(t, consumer.ConnectToNSQD(s.NSQAddr))
	defer consumer.Stop()

	body, _ := json.Marshal(payload)
	require.NoError(t, s.NSQ.Publish(config.TopicIngestDocument, body))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for ingest message")
	}
	ing.AssertExpectations(t)
	assert.True(t, st.AssertExpectations(t))
}
