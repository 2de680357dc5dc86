// Package chromem stores vectors in an embedded, file-persisted chromem-go database.
// Each namespace is its own collection named "<index>/<namespace>".
package chromem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

const (
	markerID      = "__index__"
	metaDimension = "dimension"
)

// Config configures the embedded store.
type Config struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path     string
	Index    string
	Compress bool
}

// Storage implements domain.VectorStore on chromem-go.
type Storage struct {
	mu        sync.Mutex
	db        *chromem.DB
	index     string
	dimension int
}

// NewStorage opens, or creates, the database at cfg.Path.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("%w: chromem index name is empty", domain.ErrInvalidConfig)
	}
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open chromem db %s: %v", domain.ErrProvider, cfg.Path, err)
		}
	}
	s := &Storage{db: db, index: cfg.Index}
	if c := db.GetCollection(cfg.Index, nil); c != nil {
		if doc, err := c.GetByID(context.Background(), markerID); err == nil {
			s.dimension, _ = strconv.Atoi(doc.Metadata[metaDimension])
		}
	}
	return s, nil
}

// EnsureIndex registers the index and its dimension in a marker collection.
func (s *Storage) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("%w: index %q has dimension %d, embedder produces %d", domain.ErrInvalidConfig, s.index, s.dimension, dimension)
	}
	c, err := s.db.GetOrCreateCollection(s.index, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: create index %q: %v", domain.ErrProvider, s.index, err)
	}
	marker := chromem.Document{
		ID:        markerID,
		Metadata:  map[string]string{metaDimension: strconv.Itoa(dimension)},
		Embedding: []float32{1},
		Content:   s.index,
	}
	if err := c.AddDocument(ctx, marker); err != nil {
		return fmt.Errorf("%w: register index %q: %v", domain.ErrProvider, s.index, err)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) collectionName(namespace string) string {
	return s.index + "/" + namespace
}

func (s *Storage) Upsert(ctx context.Context, namespace string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.db.GetOrCreateCollection(s.collectionName(namespace), nil, nil)
	if err != nil {
		return fmt.Errorf("%w: collection for namespace %q: %v", domain.ErrProvider, namespace, err)
	}
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	metas := make([]map[string]string, len(records))
	contents := make([]string, len(records))
	for i, r := range records {
		if s.dimension != 0 && len(r.Values) != s.dimension {
			return fmt.Errorf("%w: vector %q has dimension %d, index expects %d", domain.ErrProvider, r.ID, len(r.Values), s.dimension)
		}
		if isZero(r.Values) {
			return fmt.Errorf("%w: vector %q has zero magnitude", domain.ErrProvider, r.ID)
		}
		ids[i] = r.ID
		vecs[i] = append([]float32(nil), r.Values...)
		metas[i] = r.Metadata
		contents[i] = r.Metadata[domain.MetaText]
	}
	if err := c.Add(ctx, ids, vecs, metas, contents); err != nil {
		return fmt.Errorf("%w: chromem add: %v", domain.ErrProvider, err)
	}
	logger.Debug("chromem: %s now holds %d vectors", c.Name, c.Count())
	return nil
}

func (s *Storage) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	// chromem normalizes the query, so a zero vector would score NaN everywhere.
	if topK <= 0 || isZero(vector) {
		return nil, nil
	}
	s.mu.Lock()
	c := s.db.GetCollection(s.collectionName(namespace), nil)
	s.mu.Unlock()
	if c == nil {
		return nil, nil
	}
	n := min(topK, c.Count())
	if n == 0 {
		return nil, nil
	}
	res, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query: %v", domain.ErrProvider, err)
	}
	out := make([]domain.Match, 0, len(res))
	for _, r := range res {
		score := r.Similarity
		if math.IsNaN(float64(score)) {
			score = 0
		}
		m := domain.Match{ID: r.ID, Score: score}
		if includeMetadata {
			m.Metadata = make(map[string]string, len(r.Metadata)+1)
			for k, v := range r.Metadata {
				m.Metadata[k] = v
			}
			if _, ok := m.Metadata[domain.MetaText]; !ok {
				m.Metadata[domain.MetaText] = r.Content
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// ListIndexes returns every index registered in the database.
func (s *Storage) ListIndexes(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.db.ListCollections() {
		if !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) DescribeIndexStats(context.Context) (domain.IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.IndexStats{Dimension: s.dimension, Namespaces: map[string]int{}}
	prefix := s.index + "/"
	for name, c := range s.db.ListCollections() {
		ns, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		n := c.Count()
		st.Namespaces[ns] = n
		st.TotalVectorCount += n
	}
	return st, nil
}

// Clear deletes the namespace collection.
func (s *Storage) Clear(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.collectionName(namespace)
	if s.db.GetCollection(name, nil) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrProvider, name, err)
	}
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Close is a no-op; chromem persists on every write.
func (s *Storage) Close() error { return nil }
