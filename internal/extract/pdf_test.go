package extract

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func TestPDFExtractor_Extract(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		runner := &mockRunner{output: []byte("Điều 1. Phạm vi\r\nNội dung\fTrang 2\n\n")}
		e := NewPDFExtractorWithRunner(runner)

		text, err := e.Extract(context.Background(), "/data/raw/quy_che.pdf")
		require.NoError(t, err)
		assert.Equal(t, "Điều 1. Phạm vi\nNội dung\nTrang 2", text)
		assert.Equal(t, "pdftotext", runner.name)
		assert.Equal(t, []string{"-enc", "UTF-8", "/data/raw/quy_che.pdf", "-"}, runner.args)
	})

	t.Run("Empty Text Layer", func(t *testing.T) {
		e := NewPDFExtractorWithRunner(&mockRunner{output: []byte("\f\f  \n")})
		_, err := e.Extract(context.Background(), "scan.pdf")
		assert.True(t, errors.Is(err, ErrExtraction))
	})

	t.Run("Garbled Output", func(t *testing.T) {
		e := NewPDFExtractorWithRunner(&mockRunner{output: []byte("\x01\x02\x03\x04ab")})
		_, err := e.Extract(context.Background(), "bad.pdf")
		assert.True(t, errors.Is(err, ErrExtraction))
		assert.Contains(t, err.Error(), "garbled")
	})

	t.Run("Runner Failure", func(t *testing.T) {
		e := NewPDFExtractorWithRunner(&mockRunner{err: errors.New("exit status 1")})
		_, err := e.Extract(context.Background(), "broken.pdf")
		assert.True(t, errors.Is(err, ErrExtraction))
	})

	t.Run("Tool Missing", func(t *testing.T) {
		e := NewPDFExtractorWithRunner(&mockRunner{err: &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}})
		_, err := e.Extract(context.Background(), "a.pdf")
		assert.True(t, errors.Is(err, ErrExtraction))
		assert.True(t, errors.Is(err, ErrPDFToolNotFound))
	})
}

func TestGarbled(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain", "Quy chế đào tạo", false},
		{"tabs and newlines", "a\tb\nc", false},
		{"invalid utf8", string([]byte{0xff, 0xfe, 'a'}), true},
		{"control heavy", "\x07\x07\x07abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Garbled(tt.in))
		})
	}
}

func TestErrPDFToolNotFound(t *testing.T) {
	assert.Contains(t, ErrPDFToolNotFound.Error(), "pdftotext")
}
