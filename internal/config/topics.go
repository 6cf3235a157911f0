package config

const (
	// TopicIngestDocument carries uploaded documents waiting for extraction and indexing.
	TopicIngestDocument = "ingest.document"

	// ChannelIngestWorker is the consumer channel shared by ingest workers.
	ChannelIngestWorker = "ingest-worker"
)
