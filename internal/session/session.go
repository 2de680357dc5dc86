// Package session owns one configured pipeline: the embedder, the vector
// store and the services built on them, from validation to teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"pdfrag/internal/chunker"
	"pdfrag/internal/config"
	"pdfrag/internal/domain"
	"pdfrag/internal/extract"
	"pdfrag/internal/logger"
	"pdfrag/internal/service"
	"pdfrag/internal/summarizer"
	"pdfrag/internal/vectorstore"
)

type options struct {
	embedder  domain.Embedder
	store     domain.VectorStore
	extractor domain.Extractor
}

// Option overrides a component normally built from the configuration.
type Option func(*options)

// WithEmbedder uses e instead of the configured embedder.
func WithEmbedder(e domain.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithStore uses s instead of the configured vector store.
func WithStore(s domain.VectorStore) Option {
	return func(o *options) { o.store = s }
}

// WithExtractor uses x instead of the PDF/text detecting extractor.
func WithExtractor(x domain.Extractor) Option {
	return func(o *options) { o.extractor = x }
}

// Session is an opened pipeline. It is safe for sequential use; callers
// serialise concurrent operations.
type Session struct {
	cfg      *config.AppConfig
	embedder domain.Embedder
	store    *vectorstore.Throttled
	svc      *service.RAGService
}

// Open validates cfg, builds the providers and checks that the target index
// exists with a dimension matching the embedder. No document is touched.
func Open(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ch, err := chunker.New(chunker.Strategy(cfg.Chunker.Strategy), cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	emb := o.embedder
	if emb == nil {
		if emb, err = NewEmbedder(ctx, cfg); err != nil {
			return nil, err
		}
	}
	raw := o.store
	if raw == nil {
		if raw, err = NewStore(cfg); err != nil {
			closeQuietly(emb)
			return nil, err
		}
	}
	store := vectorstore.NewThrottled(raw, vectorstore.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxRetries:        cfg.RateLimit.MaxRetries,
	})
	s := &Session{cfg: cfg, embedder: emb, store: store}

	if err := s.checkIndex(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	var sum domain.Summarizer
	if cfg.Summarizer.Type == "frequency" {
		sum = summarizer.NewFrequencySummarizer()
	}
	extractor := o.extractor
	if extractor == nil {
		extractor = extract.NewAuto()
	}
	s.svc, err = service.NewRAGService(extractor, ch, emb, store, sum, service.Options{
		BatchSize:           cfg.Ingest.BatchSize,
		BatchDelay:          time.Duration(cfg.Ingest.BatchDelayMS) * time.Millisecond,
		IDScheme:            service.IDScheme(cfg.Ingest.IDScheme),
		TopK:                cfg.Query.TopK,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("session: embedder=%s store=%s index=%s chunker=%s/%d/%d",
		emb.Name(), cfg.VectorStore.Type, cfg.VectorStore.Index, ch.Strategy(), ch.ChunkSize(), ch.Overlap())
	return s, nil
}

func (s *Session) checkIndex(ctx context.Context) error {
	index := s.cfg.VectorStore.Index
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if err := s.store.EnsureIndex(ctx, dim); err != nil {
		return err
	}
	names, err := s.store.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	if !slices.Contains(names, index) {
		return fmt.Errorf("%w: %q (available: %s)", domain.ErrIndexNotFound, index, strings.Join(names, ", "))
	}
	st, err := s.store.DescribeIndexStats(ctx)
	if err != nil {
		return fmt.Errorf("describe index %q: %w", index, err)
	}
	if st.Dimension > 0 && st.Dimension != dim {
		return fmt.Errorf("%w: index %q has dimension %d, embedder %s produces %d",
			domain.ErrInvalidConfig, index, st.Dimension, s.embedder.Name(), dim)
	}
	return nil
}

// dimension returns the embedder's vector length, embedding a sample text
// when the model does not advertise one.
func (s *Session) dimension(ctx context.Context) (int, error) {
	if dim := s.embedder.Dimension(); dim > 0 {
		return dim, nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, dimensionSample)
	if err != nil {
		return 0, fmt.Errorf("determine %s dimension: %w", s.embedder.Name(), err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("%w: %s returned an empty embedding", domain.ErrProvider, s.embedder.Name())
	}
	logger.Debug("session: %s produces %d-dimensional vectors", s.embedder.Name(), len(vec))
	return len(vec), nil
}

const dimensionSample = "pdfrag dimension check"

// Config returns the validated configuration.
func (s *Session) Config() *config.AppConfig { return s.cfg }

// Ingest uploads doc. An empty namespace selects the configured default.
func (s *Session) Ingest(ctx context.Context, doc domain.Document) (service.IngestResult, error) {
	doc.Namespace = s.namespace(doc.Namespace)
	return s.svc.Ingest(ctx, doc)
}

// Query retrieves up to k chunks similar to text. k <= 0 selects the configured top_k.
func (s *Session) Query(ctx context.Context, text, namespace string, k int) ([]domain.Match, error) {
	return s.svc.Query(ctx, text, s.namespace(namespace), k)
}

// Indexes lists the indexes available in the vector store.
func (s *Session) Indexes(ctx context.Context) ([]string, error) {
	return s.store.ListIndexes(ctx)
}

// Stats describes the configured index.
func (s *Session) Stats(ctx context.Context) (domain.IndexStats, error) {
	return s.store.DescribeIndexStats(ctx)
}

// Clear deletes every record of the namespace. An empty namespace selects the configured default.
func (s *Session) Clear(ctx context.Context, namespace string) error {
	ns := s.namespace(namespace)
	if err := s.store.Clear(ctx, ns); err != nil {
		return fmt.Errorf("clear namespace %q: %w", ns, err)
	}
	logger.Info("session: cleared namespace %s", ns)
	return nil
}

// Close releases the store and the embedder.
func (s *Session) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (s *Session) namespace(ns string) string {
	if strings.TrimSpace(ns) == "" {
		return s.cfg.Ingest.Namespace
	}
	return ns
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
