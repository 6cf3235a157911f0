package app

import (
	"context"
	"fmt"
	"io"

	"github.com/google/generative-ai-go/genai"

	"regchat/internal/adapter/gemini"
	"regchat/internal/adapter/openai"
	"regchat/internal/config"
	"regchat/internal/index"
	"regchat/internal/synth"
)

// Oracles holds the embedding and generation backends chosen by config. The
// two may come from different providers.
type Oracles struct {
	Embedder  index.Embedder
	Generator synth.Generator
	closers   []io.Closer
}

func (o *Oracles) Close() error {
	var first error
	for _, c := range o.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func NewOracles(ctx context.Context, cfg *config.Config) (*Oracles, error) {
	o := &Oracles{}

	var gClient *genai.Client
	if cfg.NeedsGemini() {
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		gClient = c
		o.closers = append(o.closers, c)
	}

	var oClient *openai.Client
	if cfg.NeedsOpenAI() {
		c, err := openai.NewClient(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("openai client: %w", err)
		}
		oClient = c
	}

	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		o.Embedder = gemini.NewEmbedder(gClient, cfg.EmbeddingModelName)
	case config.ProviderOpenAI:
		o.Embedder = openai.NewEmbedder(oClient, cfg.EmbeddingModelName)
	default:
		o.Close()
		return nil, fmt.Errorf("%w: EMBEDDING_PROVIDER %q", config.ErrInvalidValue, cfg.EmbeddingProvider)
	}
	o.Embedder = index.NewRateLimited(o.Embedder, cfg.EmbedRateLimit, cfg.EmbedConcurrency)

	switch cfg.LLMProvider {
	case config.ProviderGemini:
		o.Generator = gemini.NewGenerator(gClient, gemini.GeneratorConfig{
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			MaxTokens:   int32(cfg.MaxTokens), // #nosec G115 -- bounded by config
		})
	case config.ProviderOpenAI:
		o.Generator = openai.NewGenerator(oClient, openai.GeneratorConfig{
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		o.Close()
		return nil, fmt.Errorf("%w: LLM_PROVIDER %q", config.ErrInvalidValue, cfg.LLMProvider)
	}
	return o, nil
}
