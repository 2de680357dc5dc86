package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
)

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, APIKey: "sk-test", Model: "text-embedding-3-small", MaxRetries: retries})
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultModel, c.model)
	assert.Equal(t, 1536, c.Dimension())
	assert.Equal(t, "openai", c.Name())
}

func TestEmbedDocuments_BatchesInOneRequestAndOrdersByIndex(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b", "c"}, req.Input)
		// respond out of order
		_, _ = w.Write([]byte(`{"data":[
			{"index":2,"embedding":[0.3,0.3]},
			{"index":0,"embedding":[0.1,0.1]},
			{"index":1,"embedding":[0.2,0.2]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, [][]float32{{0.1, 0.1}, {0.2, 0.2}, {0.3, 0.3}}, vecs)
}

func TestEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	v, err := newTestClient(t, srv.URL, 0).EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, v)
}

func TestEmbedDocuments_RetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	vecs, err := newTestClient(t, srv.URL, 5).EmbedDocuments(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, [][]float32{{0.5}}, vecs)
}

func TestEmbedDocuments_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).EmbedDocuments(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *domain.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestEmbedDocuments_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 3).EmbedDocuments(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Contains(t, err.Error(), "Incorrect API key")
}

func TestEmbedDocuments_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).EmbedDocuments(context.Background(), []string{"x", "y"})
	assert.ErrorIs(t, err, domain.ErrProvider)
}

func TestEmbedDocuments_OllamaResponseShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if len(req.Input) == 1 {
			_, _ = w.Write([]byte(`{"embedding":[0.4,0.6]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1,0],[0,1]]}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 0)

	v, err := c.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.4, 0.6}, v)

	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestDimension_LearnedConcurrently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Zero(t, c.Dimension())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.EmbedQuery(context.Background(), "q")
			assert.NoError(t, err)
			_ = c.Dimension()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, c.Dimension())
}

func TestEmbedDocuments_Empty(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", 0)
	vecs, err := c.EmbedDocuments(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(1))
	assert.Equal(t, 5*time.Second, retryDelay(10))
	assert.Equal(t, 5*time.Second, retryDelay(100))
}
