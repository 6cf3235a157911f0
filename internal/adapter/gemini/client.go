// Package gemini adapts Google's Gemini API to the index.Embedder and
// synth.Generator ports.
package gemini

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultEmbeddingModel  = "gemini-embedding-001"
	DefaultGenerationModel = "gemini-2.0-flash"
)

var ErrMissingAPIKey = errors.New("gemini api key not configured")

// NewClient opens one client shared by the embedder and generator. Extra
// options (an endpoint override in tests) are applied after the key.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	return genai.NewClient(ctx, all...)
}
