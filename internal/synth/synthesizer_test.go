package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

const sampleContext = "CITATION #1 (source: quy_che):\nĐiều 10. Sinh viên được đăng ký tối đa 25 tín chỉ mỗi học kỳ."

func TestNew_TemplateValidation(t *testing.T) {
	_, err := New(new(MockGenerator), Options{Template: "{{.Context"})
	assert.Error(t, err)

	_, err = New(new(MockGenerator), Options{Template: "only {{.Context}}"})
	assert.Error(t, err)

	s, err := New(new(MockGenerator), Options{Template: "Q={{.Question}} C={{.Context}}"})
	require.NoError(t, err)
	p, err := s.Render(" hỏi ", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "Q=hỏi C=ctx", p)
}

func TestRender_DefaultTemplate(t *testing.T) {
	s, err := New(new(MockGenerator), Options{})
	require.NoError(t, err)

	p, err := s.Render("Tối đa bao nhiêu tín chỉ?", sampleContext)
	require.NoError(t, err)
	assert.Contains(t, p, sampleContext)
	assert.Contains(t, p, "CÂU HỎI: Tối đa bao nhiêu tín chỉ?")
	assert.Contains(t, p, "Chỉ trả lời dựa trên")
	assert.Contains(t, p, "Trích dẫn")
}

func TestSynthesize(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, sampleContext) && strings.Contains(p, "tín chỉ?")
		})).Return("  Theo Điều 10, tối đa 25 tín chỉ.\n", nil).Once()

		s, _ := New(gen, Options{})
		answer, err := s.Synthesize(context.Background(), "Tối đa bao nhiêu tín chỉ?", sampleContext)
		require.NoError(t, err)
		assert.Equal(t, "Theo Điều 10, tối đa 25 tín chỉ.", answer)
		gen.AssertExpectations(t)
	})

	t.Run("Empty Context Skips Oracle", func(t *testing.T) {
		gen := new(MockGenerator)
		s, _ := New(gen, Options{})

		answer, err := s.Synthesize(context.Background(), "Học phí?", "  \n")
		require.NoError(t, err)
		assert.Equal(t, InsufficientContextAnswer, answer)
		gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Oracle Failure", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("rate limited")).Once()
		s, _ := New(gen, Options{})

		_, err := s.Synthesize(context.Background(), "q", sampleContext)
		assert.True(t, errors.Is(err, ErrGeneration))
		gen.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("Empty Completion", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return("   ", nil)
		s, _ := New(gen, Options{})

		_, err := s.Synthesize(context.Background(), "q", sampleContext)
		assert.True(t, errors.Is(err, ErrGeneration))
	})

	t.Run("Timeout", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).Return("", context.DeadlineExceeded)
		s, _ := New(gen, Options{Timeout: 20 * time.Millisecond})

		_, err := s.Synthesize(context.Background(), "q", sampleContext)
		assert.True(t, errors.Is(err, ErrGeneration))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestBoundContext(t *testing.T) {
	two := "CITATION #1 (source: a):\naaaa\n\nCITATION #2 (source: b):\nbbbb"

	assert.Equal(t, two, BoundContext(two, 0))
	assert.Equal(t, two, BoundContext(two, 1000))
	assert.Equal(t, "CITATION #1 (source: a):\naaaa", BoundContext(two, len([]rune(two))-2))
	assert.Equal(t, "CITA", BoundContext(two, 4))

	vi := "Điều khoản"
	assert.Equal(t, "Điều", BoundContext(vi, 4))
}
