// Package hashing provides an offline embedder that projects term
// frequencies into a fixed number of buckets with feature hashing.
package hashing

import (
	"context"
	"hash/fnv"
	"math"

	"pdfrag/internal/textutil"
)

// DefaultDimension is used when no dimension is configured.
const DefaultDimension = 384

// Embedder is a deterministic, corpus-free bag-of-words embedder. Unlike a
// TF-IDF vocabulary it needs no preparation pass, so records embedded in one
// run stay comparable with queries embedded in a later run.
type Embedder struct {
	dimension int
}

// New creates a hashing embedder producing vectors of the given dimension.
func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedDocuments embeds every text independently.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

// EmbedQuery embeds a single query.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *Embedder) embed(text string) []float32 {
	tf := make(map[string]int)
	for _, tok := range textutil.Tokens(text) {
		tf[tok]++
	}
	acc := make([]float64, e.dimension)
	for tok, count := range tf {
		bucket, sign := e.bucket(tok)
		// sublinear tf damps repeated terms
		acc[bucket] += sign * (1 + math.Log(float64(count)))
	}
	// L2 normalize
	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

// bucket maps a token to its slot and a ±1 sign that cancels collision bias.
func (e *Embedder) bucket(token string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimension)), sign
}
