package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
)

const prose = "Retrieval works on chunks. Each chunk is embedded once.\n\n" +
	"Overlap keeps sentences that straddle a boundary searchable from both sides! " +
	"Does it matter how the window ends? It does for readability.\n" +
	"Ünïcödé characters must never be split in half, nor should emoji like 🚀 be.\n\n"

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		strategy  Strategy
		chunkSize int
		overlap   int
	}{
		{name: "zero chunk size", strategy: Fixed, chunkSize: 0, overlap: 0},
		{name: "negative chunk size", strategy: Fixed, chunkSize: -5, overlap: 0},
		{name: "overlap equals chunk size", strategy: Fixed, chunkSize: 100, overlap: 100},
		{name: "overlap exceeds chunk size", strategy: Recursive, chunkSize: 100, overlap: 150},
		{name: "negative overlap", strategy: Recursive, chunkSize: 100, overlap: -1},
		{name: "unknown strategy", strategy: "semantic", chunkSize: 100, overlap: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.strategy, tt.chunkSize, tt.overlap)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestNew_DefaultsToRecursive(t *testing.T) {
	c, err := New("", DefaultChunkSize, DefaultOverlap)
	require.NoError(t, err)
	assert.Equal(t, Recursive, c.Strategy())
	assert.Equal(t, DefaultChunkSize, c.ChunkSize())
	assert.Equal(t, DefaultOverlap, c.Overlap())
}

func TestSplit_EmptyInput(t *testing.T) {
	for _, s := range []Strategy{Fixed, Recursive} {
		c, err := New(s, 1000, 200)
		require.NoError(t, err)
		assert.Empty(t, c.Split(""), string(s))
	}
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	c, err := New(Recursive, 1000, 200)
	require.NoError(t, err)
	chunks := c.Split("hello world")
	assert.Equal(t, []string{"hello world"}, chunks)
}

func TestSplitFixed_2500Chars(t *testing.T) {
	c, err := New(Fixed, 1000, 200)
	require.NoError(t, err)

	chunks := c.Split(strings.Repeat("x", 2500))

	require.Len(t, chunks, 4)
	lengths := make([]int, len(chunks))
	for i, ch := range chunks {
		lengths[i] = len(ch)
	}
	// windows start at 0, 800, 1600, 2400
	assert.Equal(t, []int{1000, 1000, 900, 100}, lengths)
}

func TestSplitFixed_CountBound(t *testing.T) {
	c, err := New(Fixed, 64, 16)
	require.NoError(t, err)
	for _, n := range []int{1, 47, 48, 49, 96, 500, 1023} {
		chunks := c.Split(strings.Repeat("a", n))
		want := (n + 47) / 48
		assert.Len(t, chunks, want, "n=%d", n)
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	texts := []string{
		prose,
		strings.Repeat(prose, 17),
		strings.Repeat("abcdefghij", 333),
		strings.Repeat("word ", 1000),
	}
	configs := []struct{ size, overlap int }{
		{1000, 200}, {100, 0}, {64, 63}, {50, 10}, {7, 3},
	}
	for _, s := range []Strategy{Fixed, Recursive} {
		for _, cfg := range configs {
			c, err := New(s, cfg.size, cfg.overlap)
			require.NoError(t, err)
			for _, text := range texts {
				chunks := c.Split(text)
				require.NotEmpty(t, chunks)
				assert.Equal(t, text, Join(chunks, cfg.overlap), "strategy=%s size=%d overlap=%d", s, cfg.size, cfg.overlap)
			}
		}
	}
}

func TestSplit_OverlapAndSizeInvariants(t *testing.T) {
	text := strings.Repeat(prose, 9)
	for _, s := range []Strategy{Fixed, Recursive} {
		c, err := New(s, 120, 30)
		require.NoError(t, err)
		chunks := c.Split(text)
		for i, ch := range chunks {
			runes := []rune(ch)
			assert.LessOrEqual(t, len(runes), 120)
			assert.True(t, utf8.ValidString(ch))
			if i == 0 {
				continue
			}
			prev := []rune(chunks[i-1])
			n := min(30, len(runes))
			assert.Equal(t, string(prev[len(prev)-n:]), string(runes[:n]), "chunk %d (%s)", i, s)
		}
	}
}

func TestSplitRecursive_PrefersNaturalBoundaries(t *testing.T) {
	c, err := New(Recursive, 80, 10)
	require.NoError(t, err)

	chunks := c.Split(strings.Repeat("lorem ipsum dolor sit amet ", 20))

	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch, " "), "chunk %q should end on a word break", ch)
	}
}

func TestSplitRecursive_ParagraphBeatsWord(t *testing.T) {
	c, err := New(Recursive, 60, 0)
	require.NoError(t, err)
	text := strings.Repeat("a ", 20) + "\n\n" + strings.Repeat("b ", 40)

	chunks := c.Split(text)

	assert.True(t, strings.HasSuffix(chunks[0], "\n\n"))
}

func TestSplitRecursive_FallsBackToHardCut(t *testing.T) {
	c, err := New(Recursive, 100, 20)
	require.NoError(t, err)

	chunks := c.Split(strings.Repeat("z", 250))

	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0], 100)
	assert.Equal(t, strings.Repeat("z", 250), Join(chunks, 20))
}
