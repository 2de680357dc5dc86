package chromem

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
)

func records() []domain.Record {
	return []domain.Record{
		{ID: "a", Values: []float32{1, 0, 0}, Metadata: map[string]string{domain.MetaText: "alpha", domain.MetaChunk: "0"}},
		{ID: "b", Values: []float32{0, 1, 0}, Metadata: map[string]string{domain.MetaText: "beta", domain.MetaChunk: "1"}},
		{ID: "c", Values: []float32{0.9, 0.1, 0}, Metadata: map[string]string{domain.MetaText: "gamma", domain.MetaChunk: "2"}},
	}
}

func TestNewStorage_RequiresIndex(t *testing.T) {
	_, err := NewStorage(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestStorage_UpsertQueryInMemory(t *testing.T) {
	s, err := NewStorage(Config{Index: "docs"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, 3))
	require.NoError(t, s.Upsert(ctx, "ns", records()))

	m, err := s.Query(ctx, "ns", []float32{1, 0, 0}, 10, true)

	require.NoError(t, err)
	require.Len(t, m, 3, "topK is clamped to the namespace size")
	assert.Equal(t, "a", m[0].ID)
	assert.Equal(t, "c", m[1].ID)
	assert.Equal(t, "alpha", m[0].Text())
	assert.GreaterOrEqual(t, m[0].Score, m[1].Score)
	assert.GreaterOrEqual(t, m[1].Score, m[2].Score)

	m, err = s.Query(ctx, "ns", []float32{1, 0, 0}, 1, false)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Nil(t, m[0].Metadata)
}

func TestStorage_EmptyNamespace(t *testing.T) {
	s, err := NewStorage(Config{Index: "docs"})
	require.NoError(t, err)
	m, err := s.Query(context.Background(), "nobody", []float32{1, 0, 0}, 5, true)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestStorage_UpsertIsIdempotent(t *testing.T) {
	s, err := NewStorage(Config{Index: "docs"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "ns", records()))
	require.NoError(t, s.Upsert(ctx, "ns", records()))
	require.NoError(t, s.Upsert(ctx, "other", records()[:1]))

	st, err := s.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalVectorCount)
	assert.Equal(t, map[string]int{"ns": 3, "other": 1}, st.Namespaces)

	require.NoError(t, s.Clear(ctx, "ns"))
	require.NoError(t, s.Clear(ctx, "missing"))
	st, err = s.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalVectorCount)
	assert.Equal(t, map[string]int{"other": 1}, st.Namespaces)
}

func TestStorage_ZeroVectors(t *testing.T) {
	s, err := NewStorage(Config{Index: "docs"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "ns", records()))

	m, err := s.Query(ctx, "ns", []float32{0, 0, 0}, 3, true)
	require.NoError(t, err)
	assert.Empty(t, m)

	err = s.Upsert(ctx, "ns", []domain.Record{{ID: "z", Values: []float32{0, 0, 0}}})
	assert.ErrorIs(t, err, domain.ErrProvider)

	m, err = s.Query(ctx, "ns", []float32{0, 1, 0}, 3, false)
	require.NoError(t, err)
	require.Len(t, m, 3)
	for _, match := range m {
		assert.False(t, math.IsNaN(float64(match.Score)), match.ID)
	}
}

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors")
	ctx := context.Background()

	s, err := NewStorage(Config{Path: path, Index: "docs"})
	require.NoError(t, err)
	require.NoError(t, s.EnsureIndex(ctx, 3))
	require.NoError(t, s.Upsert(ctx, "ns", records()))
	require.NoError(t, s.Close())

	reopened, err := NewStorage(Config{Path: path, Index: "docs"})
	require.NoError(t, err)

	names, err := reopened.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)

	st, err := reopened.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Dimension)
	assert.Equal(t, 3, st.Namespaces["ns"])

	m, err := reopened.Query(ctx, "ns", []float32{0, 1, 0}, 1, true)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "beta", m[0].Text())
}

func TestStorage_DimensionChecks(t *testing.T) {
	s, err := NewStorage(Config{Index: "docs"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, 3))
	assert.ErrorIs(t, s.EnsureIndex(ctx, 5), domain.ErrInvalidConfig)
	assert.ErrorIs(t, s.Upsert(ctx, "ns", []domain.Record{{ID: "x", Values: []float32{1}}}), domain.ErrProvider)
}
