// Package service runs the ingestion and retrieval pipelines over the
// extractor, splitter, embedder and vector store it is given.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

// Defaults applied to zero Options fields.
const (
	DefaultBatchSize           = 100
	DefaultTopK                = 5
	DefaultSummaryMaxSentences = 3
)

// Options tune the pipelines.
type Options struct {
	BatchSize int
	// BatchDelay is a fixed pause between upload batches.
	BatchDelay          time.Duration
	IDScheme            IDScheme
	TopK                int
	SummaryMaxSentences int
}

// IngestResult reports what an ingestion stored.
type IngestResult struct {
	Namespace  string `json:"namespace"`
	Document   string `json:"document"`
	Characters int    `json:"characters"`
	Chunks     int    `json:"chunks"`
	Batches    int    `json:"batches"`
	Upserted   int    `json:"upserted"`
	// Skipped counts chunks whose embedding had no direction, such as stopword-only text.
	Skipped    int    `json:"skipped,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

type RAGService struct {
	extractor  domain.Extractor
	splitter   domain.Splitter
	embedder   domain.Embedder
	store      domain.VectorStore
	summarizer domain.Summarizer
	opts       Options
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRAGService wires the pipelines. summarizer may be nil.
func NewRAGService(extractor domain.Extractor, splitter domain.Splitter, embedder domain.Embedder, store domain.VectorStore, summarizer domain.Summarizer, opts Options) (*RAGService, error) {
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", domain.ErrInvalidConfig, opts.BatchSize)
	}
	if opts.BatchDelay < 0 {
		return nil, fmt.Errorf("%w: batch delay must not be negative", domain.ErrInvalidConfig)
	}
	scheme, err := ParseIDScheme(string(opts.IDScheme))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	opts.IDScheme = scheme
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SummaryMaxSentences <= 0 {
		opts.SummaryMaxSentences = DefaultSummaryMaxSentences
	}
	return &RAGService{
		extractor:  extractor,
		splitter:   splitter,
		embedder:   embedder,
		store:      store,
		summarizer: summarizer,
		opts:       opts,
		sleep:      sleepContext,
	}, nil
}

// Options returns the effective options.
func (s *RAGService) Options() Options { return s.opts }

// Ingest extracts, chunks, embeds and uploads doc in batches. Nothing is
// uploaded when extraction fails or yields no text. A failed batch stops the
// run with a *domain.BatchError; earlier batches stay committed.
func (s *RAGService) Ingest(ctx context.Context, doc domain.Document) (IngestResult, error) {
	ns := doc.Namespace
	if strings.TrimSpace(ns) == "" {
		ns = domain.DefaultNamespace
	}
	res := IngestResult{Namespace: ns, Document: doc.Name}

	logger.Section("Ingest " + doc.Name)
	text, err := s.extractor.Extract(ctx, doc.Data)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !errors.Is(err, domain.ErrExtraction) {
			err = fmt.Errorf("%w: %v", domain.ErrExtraction, err)
		}
		return res, err
	}
	if strings.TrimSpace(text) == "" {
		return res, fmt.Errorf("%w: %s", domain.ErrEmptyDocument, doc.Name)
	}
	res.Characters = utf8.RuneCountInString(text)
	logger.Info("extracted %d characters", res.Characters)

	chunks := s.splitter.Split(text)
	res.Chunks = len(chunks)
	res.Batches = (len(chunks) + s.opts.BatchSize - 1) / s.opts.BatchSize
	logger.Info("split into %d chunks, %d batches of up to %d", res.Chunks, res.Batches, s.opts.BatchSize)

	docKey := DocumentKey(doc.Data)
	for b := 0; b < res.Batches; b++ {
		if b > 0 && s.opts.BatchDelay > 0 {
			if err := s.sleep(ctx, s.opts.BatchDelay); err != nil {
				return res, s.batchError(b, res, err)
			}
		}
		start := b * s.opts.BatchSize
		end := min(start+s.opts.BatchSize, len(chunks))
		written, err := s.uploadBatch(ctx, ns, doc.Name, docKey, chunks[start:end], start)
		if err != nil {
			logger.Warn("batch %d of %d failed: %v", b+1, res.Batches, err)
			return res, s.batchError(b, res, err)
		}
		res.Upserted += written
		res.Skipped += end - start - written
		logger.Debug("batch %d of %d: upserted %d records", b+1, res.Batches, written)
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(text, s.opts.SummaryMaxSentences)
		if err != nil {
			logger.Warn("summary failed: %v", err)
		}
		res.Summary = summary
	}
	return res, nil
}

func (s *RAGService) batchError(b int, res IngestResult, err error) error {
	return &domain.BatchError{Batch: b, Batches: res.Batches, Committed: res.Upserted, Err: err}
}

// uploadBatch embeds and upserts texts, returning how many records were written.
// Chunks with a zero embedding are skipped since no query can ever rank them.
func (s *RAGService) uploadBatch(ctx context.Context, ns, name, docKey string, texts []string, offset int) (int, error) {
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, providerError(ctx, err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("%w: %s returned %d embeddings for %d chunks", domain.ErrProvider, s.embedder.Name(), len(vecs), len(texts))
	}
	records := make([]domain.Record, 0, len(texts))
	for i, t := range texts {
		idx := offset + i
		if isZero(vecs[i]) {
			logger.Debug("chunk %d of %s has a zero embedding, skipped", idx, name)
			continue
		}
		records = append(records, domain.Record{
			ID:     RecordID(s.opts.IDScheme, ns, docKey, idx),
			Values: vecs[i],
			Metadata: map[string]string{
				domain.MetaText:     t,
				domain.MetaSource:   name,
				domain.MetaChunk:    strconv.Itoa(idx),
				domain.MetaDocument: docKey,
			},
		})
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := s.store.Upsert(ctx, ns, records); err != nil {
		return 0, providerError(ctx, err)
	}
	return len(records), nil
}

// Query embeds text and returns up to k matches from namespace in the store's
// order. Blank text returns no matches without calling any provider, and a
// query whose embedding is zero returns no matches without calling the store.
func (s *RAGService) Query(ctx context.Context, text, namespace string, k int) ([]domain.Match, error) {
	if strings.TrimSpace(text) == "" {
		return []domain.Match{}, nil
	}
	if k <= 0 {
		k = s.opts.TopK
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = domain.DefaultNamespace
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, providerError(ctx, err)
	}
	if isZero(vec) {
		logger.Debug("query %q has a zero embedding, no matches", text)
		return []domain.Match{}, nil
	}
	matches, err := s.store.Query(ctx, namespace, vec, k, true)
	if err != nil {
		return nil, providerError(ctx, err)
	}
	logger.Debug("query %q in %s: %d matches", text, namespace, len(matches))
	if matches == nil {
		matches = []domain.Match{}
	}
	return matches, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func providerError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, domain.ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrProvider, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
