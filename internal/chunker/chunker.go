// Package chunker splits extracted document text into overlapping,
// size-bounded chunks.
package chunker

import (
	"fmt"
	"strings"

	"pdfrag/internal/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of characters shared by neighbouring chunks.
const DefaultOverlap = 200

// Strategy selects how window ends are placed.
type Strategy string

const (
	// Fixed cuts every window at exactly chunk size characters.
	Fixed Strategy = "fixed"
	// Recursive pulls each window end back to the last paragraph, line,
	// sentence or word break inside the window when one exists.
	Recursive Strategy = "recursive"
)

// separators are tried in order, coarsest first.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune(" "),
}

// Chunker splits text into chunks of at most chunkSize runes where every
// chunk after the first starts with the last overlap runes of its predecessor.
type Chunker struct {
	strategy  Strategy
	chunkSize int
	overlap   int
}

// New validates the window configuration and returns a Chunker.
func New(strategy Strategy, chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidConfig, chunkSize, overlap)
	}
	switch strategy {
	case "":
		strategy = Recursive
	case Fixed, Recursive:
	default:
		return nil, fmt.Errorf("%w: unknown chunker strategy %q", domain.ErrInvalidConfig, strategy)
	}
	return &Chunker{strategy: strategy, chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize returns the maximum chunk length in characters.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the number of characters shared by neighbouring chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Strategy returns the configured strategy.
func (c *Chunker) Strategy() Strategy { return c.strategy }

// Split returns the chunks of text in order. Empty text yields no chunks.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if c.strategy == Fixed {
		return c.splitFixed(runes)
	}
	return c.splitRecursive(runes)
}

// splitFixed emits ceil(len/step) windows; trailing windows may be short.
func (c *Chunker) splitFixed(runes []rune) []string {
	n := len(runes)
	step := c.chunkSize - c.overlap
	chunks := make([]string, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := min(start+c.chunkSize, n)
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func (c *Chunker) splitRecursive(runes []rune) []string {
	n := len(runes)
	var chunks []string
	start := 0
	for {
		end := start + c.chunkSize
		if end >= n {
			return append(chunks, string(runes[start:n]))
		}
		end = c.boundary(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))
		start = end - c.overlap
	}
}

// boundary returns the position just past the last separator found in
// runes[floor:end], or end when there is none. floor keeps every chunk longer
// than the overlap and at least half a window long.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	floor := max(start+c.chunkSize/2, start+c.overlap+1)
	for _, sep := range separators {
		for cut := end; cut >= floor && cut-len(sep) >= start; cut-- {
			if hasAt(runes, cut-len(sep), sep) {
				return cut
			}
		}
	}
	return end
}

func hasAt(runes []rune, at int, sep []rune) bool {
	for i, r := range sep {
		if runes[at+i] != r {
			return false
		}
	}
	return true
}

// Join reverses Split: it concatenates chunks, dropping the leading overlap
// characters (or the whole chunk, if shorter) from every chunk after the first.
func Join(chunks []string, overlap int) string {
	var b strings.Builder
	for i, ch := range chunks {
		if i == 0 {
			b.WriteString(ch)
			continue
		}
		r := []rune(ch)
		b.WriteString(string(r[min(overlap, len(r)):]))
	}
	return b.String()
}
