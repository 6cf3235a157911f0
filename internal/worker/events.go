package worker

// IngestDocumentPayload is the body of a config.TopicIngestDocument message.
type IngestDocumentPayload struct {
	DocumentID    string `json:"document_id"`
	Filename      string `json:"filename"`
	Path          string `json:"path"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
