// Package memory is an in-process vector store using brute-force cosine similarity.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"pdfrag/internal/domain"
)

type entry struct {
	values   []float32
	metadata map[string]string
}

type namespace struct {
	order   []string
	entries map[string]entry
}

// Storage keeps records per namespace. Upserting an existing ID overwrites it in place.
type Storage struct {
	mu         sync.RWMutex
	index      string
	dimension  int
	namespaces map[string]*namespace
}

// NewStorage returns an empty store serving a single index.
func NewStorage(index string) *Storage {
	return &Storage{index: index, namespaces: map[string]*namespace{}}
}

// EnsureIndex fixes the vector dimension of the index.
func (s *Storage) EnsureIndex(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("%w: index %q has dimension %d, embedder produces %d", domain.ErrInvalidConfig, s.index, s.dimension, dimension)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, ns string, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.dimension == 0 {
			s.dimension = len(r.Values)
		}
		if len(r.Values) != s.dimension {
			return fmt.Errorf("%w: vector %q has dimension %d, index expects %d", domain.ErrProvider, r.ID, len(r.Values), s.dimension)
		}
	}
	n := s.namespaces[ns]
	if n == nil {
		n = &namespace{entries: map[string]entry{}}
		s.namespaces[ns] = n
	}
	for _, r := range records {
		if _, ok := n.entries[r.ID]; !ok {
			n.order = append(n.order, r.ID)
		}
		n.entries[r.ID] = entry{values: append([]float32(nil), r.Values...), metadata: copyMeta(r.Metadata)}
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, ns string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.namespaces[ns]
	if n == nil || topK <= 0 {
		return nil, nil
	}
	scores := make([]float64, len(n.order))
	for i, id := range n.order {
		scores[i] = cosine(n.entries[id].values, vector)
	}
	idxs := argsortDesc(scores)
	topK = min(topK, len(idxs))
	out := make([]domain.Match, 0, topK)
	for _, j := range idxs[:topK] {
		id := n.order[j]
		m := domain.Match{ID: id, Score: float32(scores[j])}
		if includeMetadata {
			m.Metadata = copyMeta(n.entries[id].metadata)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Storage) ListIndexes(context.Context) ([]string, error) {
	return []string{s.index}, nil
}

func (s *Storage) DescribeIndexStats(context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := domain.IndexStats{Dimension: s.dimension, Namespaces: map[string]int{}}
	for name, n := range s.namespaces {
		st.Namespaces[name] = len(n.order)
		st.TotalVectorCount += len(n.order)
	}
	return st, nil
}

// Clear drops every record of the namespace.
func (s *Storage) Clear(ctx context.Context, ns string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, ns)
	return nil
}

func (s *Storage) Close() error { return nil }

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// argsortDesc returns indexes of vals ordered by descending value; ties keep insertion order.
func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool { return vals[idxs[i]] > vals[idxs[j]] })
	return idxs
}
