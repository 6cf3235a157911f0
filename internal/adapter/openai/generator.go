package openai

import (
	"context"
	"errors"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type GeneratorConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type Generator struct {
	client *Client
	cfg    GeneratorConfig
}

func NewGenerator(client *Client, cfg GeneratorConfig) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	return &Generator{client: client, cfg: cfg}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       g.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}
	var resp chatResponse
	if err := g.client.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
