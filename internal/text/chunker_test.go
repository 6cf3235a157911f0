package text

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reassemble(chunks []Chunk, overlap int) string {
	var b strings.Builder
	for i, ch := range chunks {
		r := []rune(ch.Text)
		if i > 0 {
			r = r[overlap:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}

func sampleText(n int) string {
	const alphabet = "Điều khoản quy chế đào tạo abcdefghijklmnopqrstuvwxyz 0123456789.\n"
	src := []rune(alphabet)
	out := make([]rune, n)
	for i := range out {
		out[i] = src[i%len(src)]
	}
	return string(out)
}

func TestNewChunker(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"Valid", 1000, 200, false},
		{"Zero Overlap", 10, 0, false},
		{"Zero Size", 0, 0, true},
		{"Negative Size", -5, 0, true},
		{"Negative Overlap", 10, -1, true},
		{"Overlap Equals Size", 10, 10, true},
		{"Overlap Exceeds Size", 10, 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(tt.size, tt.overlap)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidChunkConfig))
				assert.Nil(t, c)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.size, c.Size())
			assert.Equal(t, tt.overlap, c.Overlap())
		})
	}
}

func TestChunker_Chunk(t *testing.T) {
	t.Run("Empty Text", func(t *testing.T) {
		c, _ := NewChunker(100, 10)
		chunks := c.Chunk("doc", "", map[string]any{"filename": "doc.pdf"})
		assert.Empty(t, chunks)
	})

	t.Run("Shorter Than Window", func(t *testing.T) {
		c, _ := NewChunker(100, 10)
		chunks := c.Chunk("doc", "short text", nil)
		require.Len(t, chunks, 1)
		assert.Equal(t, "short text", chunks[0].Text)
		assert.Equal(t, "doc_chunk_0", chunks[0].ID)
	})

	t.Run("Exact Window", func(t *testing.T) {
		c, _ := NewChunker(10, 3)
		chunks := c.Chunk("doc", "0123456789", nil)
		require.Len(t, chunks, 1)
		assert.Equal(t, "0123456789", chunks[0].Text)
	})

	t.Run("Regulation Document 2500 Characters", func(t *testing.T) {
		c, _ := NewChunker(1000, 200)
		text := sampleText(2500)
		chunks := c.Chunk("quy_che", text, nil)

		// windows start every 800 runes: [0,1000) [800,1800) [1600,2500)
		require.Len(t, chunks, 3)
		assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0].Text))
		assert.Equal(t, 1000, utf8.RuneCountInString(chunks[1].Text))
		assert.Equal(t, 900, utf8.RuneCountInString(chunks[2].Text))
		// the last window contributes 700 runes beyond its overlap
		assert.Equal(t, 700, utf8.RuneCountInString(chunks[2].Text)-200)
	})

	t.Run("Metadata And IDs", func(t *testing.T) {
		c, _ := NewChunker(4, 1)
		meta := map[string]any{"filename": "a.pdf", "source": "ignored"}
		chunks := c.Chunk("a", "abcdefghij", meta)

		require.Len(t, chunks, 3)
		for i, ch := range chunks {
			assert.Equal(t, ChunkID("a", i), ch.ID)
			assert.Equal(t, i, ch.Ordinal)
			assert.Equal(t, "a", ch.DocumentID)
			assert.Equal(t, "a", ch.Metadata[MetaSource])
			assert.Equal(t, ch.ID, ch.Metadata[MetaChunkID])
			assert.Equal(t, i, ch.Metadata[MetaOrdinal])
			assert.Equal(t, "a.pdf", ch.Metadata["filename"])
		}

		// caller map is copied, never mutated
		assert.Equal(t, "ignored", meta["source"])
		chunks[0].Metadata["filename"] = "changed"
		assert.Equal(t, "a.pdf", chunks[1].Metadata["filename"])
		assert.Equal(t, "a.pdf", meta["filename"])
	})

	t.Run("Multibyte Runes", func(t *testing.T) {
		c, _ := NewChunker(3, 1)
		chunks := c.Chunk("vi", "Điều khoản", nil)
		for _, ch := range chunks {
			assert.True(t, utf8.ValidString(ch.Text))
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 3)
		}
		assert.Equal(t, "Điều khoản", reassemble(chunks, 1))
	})
}

func TestChunker_Properties(t *testing.T) {
	configs := []struct{ size, overlap int }{
		{1000, 200}, {7, 0}, {7, 6}, {50, 25}, {1, 0},
	}
	lengths := []int{1, 6, 7, 8, 49, 50, 51, 123, 999, 2500}

	for _, cfg := range configs {
		c, err := NewChunker(cfg.size, cfg.overlap)
		require.NoError(t, err)

		for _, n := range lengths {
			text := sampleText(n)
			chunks := c.Chunk("doc", text, map[string]any{"k": "v"})

			// determinism
			assert.Equal(t, chunks, c.Chunk("doc", text, map[string]any{"k": "v"}))

			// coverage
			assert.Equal(t, text, reassemble(chunks, cfg.overlap), "size=%d overlap=%d n=%d", cfg.size, cfg.overlap, n)

			// size bound and overlap
			require.NotEmpty(t, chunks)
			for i, ch := range chunks {
				l := utf8.RuneCountInString(ch.Text)
				if i < len(chunks)-1 {
					assert.Equal(t, cfg.size, l)
					next := []rune(chunks[i+1].Text)
					cur := []rune(ch.Text)
					ov := cfg.overlap
					if ov > len(next) {
						ov = len(next)
					}
					assert.Equal(t, string(cur[len(cur)-cfg.overlap:][:ov]), string(next[:ov]))
				} else {
					assert.Greater(t, l, 0)
					assert.LessOrEqual(t, l, cfg.size)
				}
			}
		}
	}
}
