package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestNew_DefaultDimension(t *testing.T) {
	e := New(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Equal(t, "hashing", e.Name())
}

func TestEmbedDocuments_ShapeAndNorm(t *testing.T) {
	e := New(64)
	vecs, err := e.EmbedDocuments(context.Background(), []string{"vector databases store embeddings", "pdf text extraction"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		require.Len(t, v, 64)
		norm := 0.0
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	a := New(128)
	b := New(128)
	va, err := a.EmbedQuery(context.Background(), "namespace scoped similarity search")
	require.NoError(t, err)
	vb, err := b.EmbedQuery(context.Background(), "namespace scoped similarity search")
	require.NoError(t, err)
	assert.Equal(t, va, vb)
}

func TestEmbed_RelatedTextScoresHigher(t *testing.T) {
	e := New(256)
	ctx := context.Background()
	docs, err := e.EmbedDocuments(ctx, []string{
		"The invoice total is due within thirty days of delivery.",
		"Photosynthesis converts sunlight into chemical energy in plants.",
	})
	require.NoError(t, err)
	q, err := e.EmbedQuery(ctx, "when is the invoice due")
	require.NoError(t, err)

	assert.Greater(t, cosine(q, docs[0]), cosine(q, docs[1]))
}

func TestEmbed_StopwordsOnlyGivesZeroVector(t *testing.T) {
	e := New(32)
	v, err := e.EmbedQuery(context.Background(), "the and of")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEmbed_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(8).EmbedDocuments(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
