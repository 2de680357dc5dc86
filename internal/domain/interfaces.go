package domain

import "context"

// Document is a single uploaded file waiting to be ingested into a namespace.
type Document struct {
	Name      string
	Data      []byte
	Namespace string
}

// Record is a vector with its identifier and metadata, as stored by a vector store.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]string
}

// Match is a single similarity search hit.
type Match struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Text returns the chunk text carried in the match metadata.
func (m Match) Text() string {
	return m.Metadata[MetaText]
}

// IndexStats describes the contents of a vector index.
type IndexStats struct {
	Dimension        int            `json:"dimension"`
	TotalVectorCount int            `json:"total_vector_count"`
	Namespaces       map[string]int `json:"namespaces"`
}

// Metadata keys written on every ingested record.
const (
	MetaText     = "text"
	MetaSource   = "source"
	MetaChunk    = "chunk"
	MetaDocument = "document"
)

// DefaultNamespace is used when the operator leaves the namespace empty.
const DefaultNamespace = "default"

// Extractor pulls plain text out of raw document bytes.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Splitter splits text into ordered, overlapping chunks.
type Splitter interface {
	Split(text string) []string
}

// Embedder converts free text into fixed-length numeric vectors.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists records per namespace and supports similarity search.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]Match, error)
	ListIndexes(ctx context.Context) ([]string, error)
	DescribeIndexStats(ctx context.Context) (IndexStats, error)
	// Clear deletes every record of the namespace. Clearing an unknown namespace is not an error.
	Clear(ctx context.Context, namespace string) error
	Close() error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
