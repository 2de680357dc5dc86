package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/chunker"
	"pdfrag/internal/domain"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/extract"
	"pdfrag/internal/summarizer"
	"pdfrag/internal/vectorstore/memory"
)

// wordSplitter makes every whitespace separated word one chunk.
type wordSplitter struct{}

func (wordSplitter) Split(text string) []string { return strings.Fields(text) }

type countingEmbedder struct {
	*hashing.Embedder
	mu         sync.Mutex
	docCalls   int
	queryCalls int
	failOnCall int
	short      bool
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{Embedder: hashing.New(1024)}
}

func (e *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.docCalls++
	call := e.docCalls
	e.mu.Unlock()
	if e.failOnCall == call {
		return nil, errors.New("embedding backend unavailable")
	}
	vecs, err := e.Embedder.EmbedDocuments(ctx, texts)
	if e.short && len(vecs) > 0 {
		vecs = vecs[1:]
	}
	return vecs, err
}

func (e *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queryCalls++
	e.mu.Unlock()
	return e.Embedder.EmbedQuery(ctx, text)
}

// recordingStore records upsert sizes and can fail one upsert call.
type recordingStore struct {
	*memory.Storage
	sizes      []int
	failOnCall int
	calls      int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Storage: memory.NewStorage("test")}
}

func (s *recordingStore) Upsert(ctx context.Context, ns string, records []domain.Record) error {
	s.calls++
	if s.calls == s.failOnCall {
		return &domain.RateLimitError{Provider: "fake", RetryAfter: time.Second}
	}
	s.sizes = append(s.sizes, len(records))
	return s.Storage.Upsert(ctx, ns, records)
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("word%03d", i)
	}
	return strings.Join(w, " ")
}

func newService(t *testing.T, splitter domain.Splitter, emb domain.Embedder, store domain.VectorStore, opts Options) *RAGService {
	t.Helper()
	svc, err := NewRAGService(extract.NewText(), splitter, emb, store, summarizer.NewFrequencySummarizer(), opts)
	require.NoError(t, err)
	return svc
}

func TestNewRAGService_Validation(t *testing.T) {
	_, err := NewRAGService(nil, nil, nil, nil, nil, Options{BatchSize: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewRAGService(nil, nil, nil, nil, nil, Options{IDScheme: "random"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	svc, err := NewRAGService(nil, nil, nil, nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, svc.Options().BatchSize)
	assert.Equal(t, DefaultTopK, svc.Options().TopK)
	assert.Equal(t, IDContent, svc.Options().IDScheme)
}

func TestIngest_BatchesOf100(t *testing.T) {
	emb := newCountingEmbedder()
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, emb, store, Options{})

	res, err := svc.Ingest(context.Background(), domain.Document{Name: "a.txt", Data: []byte(words(250)), Namespace: "ns"})

	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, store.sizes)
	assert.Equal(t, 3, emb.docCalls)
	assert.Equal(t, 250, res.Chunks)
	assert.Equal(t, 250, res.Upserted)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, "ns", res.Namespace)

	st, err := store.DescribeIndexStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, st.Namespaces["ns"])
}

func TestIngest_FailedBatchKeepsEarlierBatchesAndRetryOverwrites(t *testing.T) {
	store := newRecordingStore()
	store.failOnCall = 3
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), store, Options{})
	doc := domain.Document{Name: "a.txt", Data: []byte(words(250)), Namespace: "ns"}
	ctx := context.Background()

	res, err := svc.Ingest(ctx, doc)

	var be *domain.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 2, be.Batch)
	assert.Equal(t, 3, be.Batches)
	assert.Equal(t, 200, be.Committed)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, 200, res.Upserted)

	st, err := store.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, st.Namespaces["ns"])

	res, err = svc.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 250, res.Upserted)
	st, err = store.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250, st.Namespaces["ns"], "re-ingestion must not duplicate records")
}

func TestIngest_EmbeddingFailureStopsRun(t *testing.T) {
	emb := newCountingEmbedder()
	emb.failOnCall = 2
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, emb, store, Options{BatchSize: 10})

	_, err := svc.Ingest(context.Background(), domain.Document{Name: "a", Data: []byte(words(35))})

	var be *domain.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Batch)
	assert.Equal(t, 10, be.Committed)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, []int{10}, store.sizes)
}

func TestIngest_EmbeddingCountMismatch(t *testing.T) {
	emb := newCountingEmbedder()
	emb.short = true
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, emb, store, Options{})

	_, err := svc.Ingest(context.Background(), domain.Document{Name: "a", Data: []byte(words(3))})

	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Empty(t, store.sizes)
}

func TestIngest_IsIdempotent(t *testing.T) {
	ch, err := chunker.New(chunker.Recursive, 200, 40)
	require.NoError(t, err)
	store := newRecordingStore()
	svc := newService(t, ch, newCountingEmbedder(), store, Options{})
	doc := domain.Document{Name: "notes.txt", Data: []byte(strings.Repeat("Vector stores keep embeddings close. ", 40))}
	ctx := context.Background()

	first, err := svc.Ingest(ctx, doc)
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, doc)
	require.NoError(t, err)

	st, err := store.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, st.Namespaces[domain.DefaultNamespace])
	assert.Equal(t, domain.DefaultNamespace, first.Namespace)
	assert.NotEmpty(t, first.Summary)
	assert.Equal(t, 40*len("Vector stores keep embeddings close. "), first.Characters)
}

func TestIngest_SequentialIDs(t *testing.T) {
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), store, Options{IDScheme: IDSequential})

	_, err := svc.Ingest(context.Background(), domain.Document{Name: "a", Data: []byte("alpha beta gamma"), Namespace: "ns"})
	require.NoError(t, err)

	m, err := svc.Query(context.Background(), "gamma", "ns", 1)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "doc_2", m[0].ID)
	assert.Equal(t, "gamma", m[0].Text())
	assert.Equal(t, "a", m[0].Metadata[domain.MetaSource])
	assert.Equal(t, "2", m[0].Metadata[domain.MetaChunk])
}

func TestIngest_ExtractionFailureUploadsNothing(t *testing.T) {
	store := newRecordingStore()
	emb := newCountingEmbedder()
	svc, err := NewRAGService(extract.NewPDF(), wordSplitter{}, emb, store, nil, Options{})
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), domain.Document{Name: "bad.pdf", Data: []byte("not a pdf")})

	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.Zero(t, emb.docCalls)
	assert.Zero(t, store.calls)
}

func TestIngest_EmptyDocument(t *testing.T) {
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), store, Options{})

	_, err := svc.Ingest(context.Background(), domain.Document{Name: "blank.txt", Data: []byte(" \n\t ")})

	assert.ErrorIs(t, err, domain.ErrEmptyDocument)
	assert.Zero(t, store.calls)
}

func TestIngest_BatchDelayBetweenBatches(t *testing.T) {
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), newRecordingStore(), Options{BatchSize: 2, BatchDelay: 500 * time.Millisecond})
	var slept []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := svc.Ingest(context.Background(), domain.Document{Name: "a", Data: []byte(words(5))})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, slept)
}

func TestQuery_BlankTextSkipsProviders(t *testing.T) {
	emb := newCountingEmbedder()
	svc := newService(t, wordSplitter{}, emb, newRecordingStore(), Options{})

	for _, q := range []string{"", "   ", "\n\t"} {
		m, err := svc.Query(context.Background(), q, "ns", 5)
		require.NoError(t, err)
		assert.Empty(t, m)
	}
	assert.Zero(t, emb.queryCalls)
}

func TestQuery_DefaultsAndOrdering(t *testing.T) {
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), store, Options{})
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	_, err := svc.Ingest(context.Background(), domain.Document{Name: "a", Data: []byte(text)})
	require.NoError(t, err)

	m, err := svc.Query(context.Background(), "gamma", "", 0)

	require.NoError(t, err)
	assert.Len(t, m, DefaultTopK)
	assert.Equal(t, "gamma", m[0].Text())
	for i := 1; i < len(m); i++ {
		assert.GreaterOrEqual(t, m[i-1].Score, m[i].Score)
	}
}

type failingQueryStore struct{ *memory.Storage }

func (failingQueryStore) Query(context.Context, string, []float32, int, bool) ([]domain.Match, error) {
	return nil, errors.New("connection reset")
}

func TestQuery_StoreFailureIsProviderError(t *testing.T) {
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), failingQueryStore{memory.NewStorage("x")}, Options{})
	_, err := svc.Query(context.Background(), "anything", "ns", 3)
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestQuery_ZeroEmbeddingSkipsStore(t *testing.T) {
	emb := newCountingEmbedder()
	svc := newService(t, wordSplitter{}, emb, failingQueryStore{memory.NewStorage("x")}, Options{})

	m, err := svc.Query(context.Background(), "the and of", "ns", 3)

	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Empty(t, m)
	assert.Equal(t, 1, emb.queryCalls)
}

func TestIngest_SkipsZeroEmbeddings(t *testing.T) {
	store := newRecordingStore()
	svc := newService(t, wordSplitter{}, newCountingEmbedder(), store, Options{BatchSize: 2})

	res, err := svc.Ingest(context.Background(), domain.Document{Name: "a", Data: []byte("the of pumps and valves"), Namespace: "ns"})

	require.NoError(t, err)
	assert.Equal(t, 5, res.Chunks)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, []int{1, 1}, store.sizes, "the all-stopword batch makes no upsert call")

	st, err := store.DescribeIndexStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Namespaces["ns"])
}

func TestRecordID(t *testing.T) {
	key := DocumentKey([]byte("pdf bytes"))
	assert.Len(t, key, 16)
	a := RecordID(IDContent, "ns", key, 0)
	assert.Len(t, a, 32)
	assert.Equal(t, a, RecordID(IDContent, "ns", key, 0))
	assert.NotEqual(t, a, RecordID(IDContent, "ns", key, 1))
	assert.NotEqual(t, a, RecordID(IDContent, "other", key, 0))
	assert.NotEqual(t, a, RecordID(IDContent, "ns", DocumentKey([]byte("other bytes")), 0))
	assert.Equal(t, "doc_7", RecordID(IDSequential, "ns", key, 7))
}
