// Package pipeline composes retrieval and synthesis into one question/answer call.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"regchat/internal/index"
	"regchat/internal/retrieval"
	"regchat/internal/synth"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, sourceFilter string) ([]index.ScoredChunk, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question, contextText string) (string, error)
}

type Source struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score"`
}

type Result struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

type Pipeline struct {
	retriever   Retriever
	synthesizer Synthesizer
	defaultK    int
}

func New(r Retriever, s Synthesizer, defaultK int) *Pipeline {
	return &Pipeline{retriever: r, synthesizer: s, defaultK: defaultK}
}

// Answer retrieves, formats, and synthesizes. Sources are the retrieved
// chunks, not the formatted prompt. When only generation fails the result is
// returned with its sources alongside the synth.ErrGeneration error.
func (p *Pipeline) Answer(ctx context.Context, query string, k int, sourceFilter string) (*Result, error) {
	if k <= 0 {
		k = p.defaultK
	}
	start := time.Now()

	hits, err := p.retriever.Retrieve(ctx, query, k, sourceFilter)
	if err != nil {
		return nil, err
	}

	res := &Result{Sources: make([]Source, len(hits))}
	for i, h := range hits {
		res.Sources[i] = Source{Text: h.Text, Metadata: h.Metadata, Score: h.Score}
	}

	answer, err := p.synthesizer.Synthesize(ctx, query, retrieval.FormatContext(hits))
	if err != nil {
		if errors.Is(err, synth.ErrGeneration) {
			return res, err
		}
		return nil, err
	}
	res.Response = answer

	slog.InfoContext(ctx, "question answered", "k", k, "source_filter", sourceFilter, "sources", len(hits), "duration", time.Since(start))
	return res, nil
}
