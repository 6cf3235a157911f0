package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regchat/internal/adapter/gemini"
	"regchat/internal/adapter/openai"
	"regchat/internal/config"
	"regchat/internal/index"
)

func TestNewOracles(t *testing.T) {
	t.Run("OpenAI", func(t *testing.T) {
		cfg := &config.Config{
			EmbeddingProvider: config.ProviderOpenAI,
			LLMProvider:       config.ProviderOpenAI,
			OpenAIAPIKey:      "sk-test",
			OpenAIBaseURL:     "http://127.0.0.1:1",
			MaxTokens:         128,
		}
		o, err := NewOracles(context.Background(), cfg)
		require.NoError(t, err)
		defer o.Close()
		assert.IsType(t, &openai.Embedder{}, o.Embedder)
		assert.IsType(t, &openai.Generator{}, o.Generator)
	})

	t.Run("Rate Limited", func(t *testing.T) {
		cfg := &config.Config{
			EmbeddingProvider: config.ProviderOpenAI,
			LLMProvider:       config.ProviderOpenAI,
			OpenAIAPIKey:      "sk-test",
			EmbedRateLimit:    5,
			EmbedConcurrency:  2,
		}
		o, err := NewOracles(context.Background(), cfg)
		require.NoError(t, err)
		assert.IsType(t, &index.RateLimited{}, o.Embedder)
	})

	t.Run("Gemini Without Key", func(t *testing.T) {
		cfg := &config.Config{
			EmbeddingProvider: config.ProviderGemini,
			LLMProvider:       config.ProviderOpenAI,
			OpenAIAPIKey:      "sk-test",
		}
		_, err := NewOracles(context.Background(), cfg)
		assert.ErrorIs(t, err, gemini.ErrMissingAPIKey)
	})

	t.Run("OpenAI Without Key", func(t *testing.T) {
		cfg := &config.Config{
			EmbeddingProvider: config.ProviderOpenAI,
			LLMProvider:       config.ProviderOpenAI,
		}
		_, err := NewOracles(context.Background(), cfg)
		assert.ErrorIs(t, err, openai.ErrMissingAPIKey)
	})
}
