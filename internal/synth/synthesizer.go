// Package synth turns retrieved context and a question into a grounded answer.
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"
)

var ErrGeneration = errors.New("generation error")

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// InsufficientContextAnswer is returned without calling the model when
// retrieval found nothing to ground the answer on.
const InsufficientContextAnswer = "Tôi không tìm thấy thông tin liên quan trong quy chế được cung cấp để trả lời câu hỏi này."

const citationSeparator = "\n\nCITATION #"

// DefaultTemplate keeps the model inside the supplied regulation excerpts.
const DefaultTemplate = `Bạn là trợ lý chuyên giải đáp về quy chế đào tạo của trường đại học.
Nhiệm vụ của bạn là trả lời câu hỏi chỉ dựa trên các trích dẫn quy chế dưới đây.

THÔNG TIN QUY CHẾ:
{{.Context}}

CÂU HỎI: {{.Question}}

HƯỚNG DẪN:
1. Chỉ trả lời dựa trên thông tin quy chế được cung cấp ở trên.
2. Nếu thông tin không đủ để trả lời, hãy nói rõ rằng bạn không tìm thấy thông tin liên quan.
3. Trích dẫn chính xác điều, khoản, mục của quy chế được dùng để trả lời.
4. Không thêm bất kỳ thông tin nào không có trong quy chế.
5. Trả lời ngắn gọn, mạch lạc, dễ hiểu.

TRẢ LỜI:`

type promptData struct {
	Context  string
	Question string
}

type Options struct {
	// MaxContextChars bounds the context in runes. Zero disables the bound.
	MaxContextChars int
	Timeout         time.Duration
	// Template overrides DefaultTemplate. It must use {{.Context}} and {{.Question}}.
	Template string
}

type Synthesizer struct {
	gen     Generator
	tmpl    *template.Template
	maxCtx  int
	timeout time.Duration
}

func New(gen Generator, opts Options) (*Synthesizer, error) {
	src := opts.Template
	if src == "" {
		src = DefaultTemplate
	}
	tmpl, err := template.New("answer").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if !strings.Contains(src, ".Context") || !strings.Contains(src, ".Question") {
		return nil, errors.New("prompt template must reference .Context and .Question")
	}
	return &Synthesizer{gen: gen, tmpl: tmpl, maxCtx: opts.MaxContextChars, timeout: opts.Timeout}, nil
}

// Render fills the template with the bounded context and the question.
func (s *Synthesizer) Render(question, contextText string) (string, error) {
	var buf bytes.Buffer
	data := promptData{Context: BoundContext(contextText, s.maxCtx), Question: strings.TrimSpace(question)}
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// Synthesize makes exactly one generation call. Empty context short-circuits
// to InsufficientContextAnswer. Failures are not retried.
func (s *Synthesizer) Synthesize(ctx context.Context, question, contextText string) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		slog.InfoContext(ctx, "no grounding context, skipping generation")
		return InsufficientContextAnswer, nil
	}

	prompt, err := s.Render(question, contextText)
	if err != nil {
		return "", err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}

	slog.DebugContext(ctx, "answer generated", "prompt_chars", len(prompt), "answer_chars", len(out), "duration", time.Since(start))
	return out, nil
}

// BoundContext cuts s to at most limit runes, preferring to drop whole
// trailing citation blocks.
func BoundContext(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, citationSeparator); i > 0 {
		return cut[:i]
	}
	return cut
}
