package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"regchat/internal/index"
	"regchat/internal/middleware"
	"regchat/internal/text"
)

const unknownSource = "unknown source"

// Searcher is the part of the embedding index the retriever reads from.
type Searcher interface {
	Query(ctx context.Context, query string, k int, filter index.Filter) ([]index.ScoredChunk, error)
}

type Service struct {
	index    Searcher
	defaultK int
	logger   *QueryLogger
}

// NewService returns a retriever that uses defaultK when a caller passes k == 0.
// l may be nil.
func NewService(idx Searcher, defaultK int, l *QueryLogger) *Service {
	return &Service{index: idx, defaultK: defaultK, logger: l}
}

// Retrieve returns up to k chunks for query, restricted to one source document
// when sourceFilter is non-empty. The index ranking is returned as is.
func (s *Service) Retrieve(ctx context.Context, query string, k int, sourceFilter string) ([]index.ScoredChunk, error) {
	start := time.Now()
	if k == 0 {
		k = s.defaultK
	}

	var filter index.Filter
	if sourceFilter != "" {
		filter = index.Filter{text.MetaSource: sourceFilter}
	}

	results, err := s.index.Query(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		entry := QueryLogEntry{
			Query:         query,
			K:             k,
			SourceFilter:  sourceFilter,
			NumResults:    len(results),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		}
		for _, r := range results {
			entry.ChunkIDs = append(entry.ChunkIDs, r.ID)
		}
		s.logger.Log(entry)
	}
	return results, nil
}

// FormatContext renders results as numbered citation blocks in retrieval
// order. No results yields "".
func FormatContext(results []index.ScoredChunk) string {
	if len(results) == 0 {
		return ""
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		source := r.Source()
		if source == "" {
			source = unknownSource
		}
		blocks[i] = fmt.Sprintf("CITATION #%d (source: %s):\n%s", i+1, source, r.Text)
	}
	return strings.Join(blocks, "\n\n")
}
