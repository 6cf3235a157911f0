// Package extract turns raw PDF files into plain text.
//
// Extraction shells out to pdftotext (poppler-utils). The command runner is
// injectable so tests never need the binary.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrExtraction marks a document whose text is empty or garbled. The
	// document is skipped; the process keeps running.
	ErrExtraction = errors.New("extraction error")

	ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")
)

const pdfTool = "pdftotext"

// maxGarbledRatio is the share of replacement/control runes above which
// extracted text is rejected.
const maxGarbledRatio = 0.1

type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() // #nosec G204 -- fixed binary, path argument only
}

type PDFExtractor struct {
	runner CommandRunner
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{runner: execRunner{}}
}

func NewPDFExtractorWithRunner(r CommandRunner) *PDFExtractor {
	return &PDFExtractor{runner: r}
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath(pdfTool); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// Extract returns the UTF-8 text of the PDF at path with page breaks turned
// into newlines.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	out, err := e.runner.Run(ctx, pdfTool, "-enc", "UTF-8", path, "-")
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("%w: %w", ErrExtraction, ErrPDFToolNotFound)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
	}

	text := Clean(string(out))
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: no text layer", ErrExtraction, path)
	}
	if Garbled(text) {
		return "", fmt.Errorf("%w: %s: garbled text", ErrExtraction, path)
	}
	return text, nil
}

// Clean normalises line endings, turns form feeds into newlines and drops NUL bytes.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimRight(s, "\n ")
}

// Garbled reports whether s is invalid UTF-8 or mostly replacement/control runes.
func Garbled(s string) bool {
	if !utf8.ValidString(s) {
		return true
	}
	total, bad := 0, 0
	for _, r := range s {
		total++
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			bad++
		}
	}
	return total > 0 && float64(bad)/float64(total) > maxGarbledRatio
}
