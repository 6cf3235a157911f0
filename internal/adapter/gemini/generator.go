package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

type GeneratorConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int32
}

type Generator struct {
	client *genai.Client
	cfg    GeneratorConfig
}

func NewGenerator(client *genai.Client, cfg GeneratorConfig) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultGenerationModel
	}
	return &Generator{client: client, cfg: cfg}
}

// Generate sends prompt as a single user turn and joins the text parts of the
// first candidate.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.cfg.Model)
	model.SetTemperature(g.cfg.Temperature)
	if g.cfg.MaxTokens > 0 {
		model.SetMaxOutputTokens(g.cfg.MaxTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "model", g.cfg.Model, "error", err)
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
