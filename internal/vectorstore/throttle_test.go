package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
)

type flakyStore struct {
	failures  int
	err       error
	upserts   int
	ensured   int
	closed    bool
	cleared   []string
	lastNS    string
	lastCount int
}

func (f *flakyStore) Upsert(_ context.Context, ns string, recs []domain.Record) error {
	f.upserts++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.lastNS, f.lastCount = ns, len(recs)
	return nil
}

func (f *flakyStore) Query(context.Context, string, []float32, int, bool) ([]domain.Match, error) {
	return []domain.Match{{ID: "a", Score: 1}}, nil
}

func (f *flakyStore) ListIndexes(context.Context) ([]string, error) { return []string{"idx"}, nil }

func (f *flakyStore) DescribeIndexStats(context.Context) (domain.IndexStats, error) {
	return domain.IndexStats{Dimension: 3}, nil
}

func (f *flakyStore) EnsureIndex(context.Context, int) error {
	f.ensured++
	return nil
}

func (f *flakyStore) Clear(_ context.Context, ns string) error {
	f.cleared = append(f.cleared, ns)
	return nil
}

func (f *flakyStore) Close() error {
	f.closed = true
	return nil
}

func newTestThrottled(inner domain.VectorStore, retries int) (*Throttled, *[]time.Duration) {
	th := NewThrottled(inner, RateLimitConfig{MaxRetries: retries})
	var slept []time.Duration
	th.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return th, &slept
}

func TestThrottled_RetriesRateLimitHonouringRetryAfter(t *testing.T) {
	inner := &flakyStore{failures: 2, err: &domain.RateLimitError{Provider: "pinecone", RetryAfter: 3 * time.Second}}
	th, slept := newTestThrottled(inner, 3)

	err := th.Upsert(context.Background(), "ns", make([]domain.Record, 4))

	require.NoError(t, err)
	assert.Equal(t, 3, inner.upserts)
	assert.Equal(t, "ns", inner.lastNS)
	assert.Equal(t, 4, inner.lastCount)
	require.Len(t, *slept, 2)
	for _, d := range *slept {
		assert.InDelta(t, float64(3*time.Second), float64(d), float64(100*time.Millisecond))
	}
}

func TestThrottled_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyStore{failures: 10, err: &domain.RateLimitError{Provider: "pinecone"}}
	th, _ := newTestThrottled(inner, 2)

	err := th.Upsert(context.Background(), "ns", nil)

	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 3, inner.upserts)
}

func TestThrottled_DoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := &flakyStore{failures: 1, err: boom}
	th, slept := newTestThrottled(inner, 5)

	err := th.Upsert(context.Background(), "ns", nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inner.upserts)
	assert.Empty(t, *slept)
}

func TestThrottled_ForwardsEverything(t *testing.T) {
	inner := &flakyStore{}
	th, _ := newTestThrottled(inner, 0)
	ctx := context.Background()

	require.NoError(t, th.EnsureIndex(ctx, 3))
	assert.Equal(t, 1, inner.ensured)

	m, err := th.Query(ctx, "ns", []float32{1}, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "a", m[0].ID)

	idx, err := th.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"idx"}, idx)

	st, err := th.DescribeIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Dimension)

	require.NoError(t, th.Clear(ctx, "ns"))
	assert.Equal(t, []string{"ns"}, inner.cleared)

	require.NoError(t, th.Close())
	assert.True(t, inner.closed)
}

func TestThrottled_CanceledContext(t *testing.T) {
	th := NewThrottled(&flakyStore{}, RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := th.Upsert(ctx, "ns", nil)
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, backoff(0))
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 30*time.Second, backoff(50))
}
