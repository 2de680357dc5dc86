// Package gemini embeds text with Google's Gemini embedding models.
package gemini

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"pdfrag/internal/domain"
)

// DefaultModel is the Gemini embedding model used when none is configured.
const DefaultModel = "text-embedding-004"

// maxBatch is the per-request content limit of BatchEmbedContents.
const maxBatch = 100

var modelDimensions = map[string]int{
	"text-embedding-004": 768,
	"embedding-001":      768,
}

// Config configures the Gemini embedder.
type Config struct {
	APIKey string
	Model  string
}

// Embedder implements domain.Embedder on top of the Gemini API. Documents and
// queries use separate task types so retrieval quality matches the API's intent.
type Embedder struct {
	client    *genai.Client
	docs      *genai.EmbeddingModel
	queries   *genai.EmbeddingModel
	dimension atomic.Int64
}

// New creates a Gemini embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is empty", domain.ErrMissingCredentials)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	docs := client.EmbeddingModel(cfg.Model)
	docs.TaskType = genai.TaskTypeRetrievalDocument
	queries := client.EmbeddingModel(cfg.Model)
	queries.TaskType = genai.TaskTypeRetrievalQuery
	e := &Embedder{client: client, docs: docs, queries: queries}
	e.dimension.Store(int64(modelDimensions[cfg.Model]))
	return e, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "gemini" }

// Dimension returns the dimensionality of the produced embedding vectors.
// Unknown models report 0 until the first embedding comes back.
func (e *Embedder) Dimension() int { return int(e.dimension.Load()) }

// EmbedDocuments embeds texts with the retrieval-document task type.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch := e.docs.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		resp, err := e.docs.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: gemini: %v", domain.ErrProvider, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs", domain.ErrProvider, len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			out = append(out, e.values(emb))
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query with the retrieval-query task type.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.queries.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", domain.ErrProvider, err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("%w: gemini returned an empty embedding", domain.ErrProvider)
	}
	return e.values(resp.Embedding), nil
}

// Close releases the underlying client.
func (e *Embedder) Close() error {
	return e.client.Close()
}

func (e *Embedder) values(emb *genai.ContentEmbedding) []float32 {
	if emb == nil {
		return nil
	}
	v := make([]float32, len(emb.Values))
	for i, x := range emb.Values {
		v[i] = float32(x)
	}
	if len(v) > 0 {
		e.dimension.CompareAndSwap(0, int64(len(v)))
	}
	return v
}
