package text

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkConfig is returned for chunk parameters that cannot
// produce a terminating window (size <= 0 or overlap outside [0, size)).
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// Metadata keys added to every chunk.
const (
	MetaSource  = "source"
	MetaChunkID = "chunk_id"
	MetaOrdinal = "ordinal"
)

// Chunk is a bounded slice of a document's text. Length is measured in
// Unicode code points, not bytes.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Ordinal    int            `json:"ordinal"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
}

// ChunkID returns the stable id of the ordinal-th chunk of a document.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, ordinal)
}

// ValidateChunkConfig reports whether size/overlap describe a window that advances.
func ValidateChunkConfig(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunkConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", ErrInvalidChunkConfig, size, overlap)
	}
	return nil
}

// Chunker splits text with a fixed-size sliding window.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if err := ValidateChunkConfig(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk slides a window of Size runes over text, advancing Size-Overlap runes
// per step. The first window that reaches the end of the text is the last one,
// so no chunk is a pure suffix of its predecessor. Each chunk gets a copy of
// metadata plus source, chunk_id and ordinal. Empty text yields no chunks.
func (c *Chunker) Chunk(documentID, text string, metadata map[string]any) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	chunks := make([]Chunk, 0, n/step+1)

	for start, ordinal := 0, 0; ; start, ordinal = start+step, ordinal+1 {
		end := start + c.size
		if end > n {
			end = n
		}

		id := ChunkID(documentID, ordinal)
		meta := make(map[string]any, len(metadata)+3)
		for k, v := range metadata {
			meta[k] = v
		}
		meta[MetaSource] = documentID
		meta[MetaChunkID] = id
		meta[MetaOrdinal] = ordinal

		chunks = append(chunks, Chunk{
			ID:         id,
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       string(runes[start:end]),
			Metadata:   meta,
		})

		if end == n {
			break
		}
	}

	return chunks
}
