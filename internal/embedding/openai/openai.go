package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "text-embedding-ada-002"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 5
)

// Model dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  atomic.Int64
	dimensions int
	client     *http.Client
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Dimensions requests shortened vectors from text-embedding-3-* models.
	Dimensions int
	MaxRetries int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key is empty", domain.ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = DefaultTimeout
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = modelDimensions[cfg.Model]
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: t},
		maxRetries: max(retries, 0),
		sleep:      sleepContext,
	}
	c.dimension.Store(int64(dim))
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced embedding vectors.
// For unknown models it is learned from the first response.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// EmbedQuery returns an embedding vector for a single query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	// Ollama's native endpoints answer {"embeddings": [...]} or, for one input, {"embedding": [...]}.
	Embeddings [][]float32 `json:"embeddings,omitempty"`
	Embedding  []float32   `json:"embedding,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// EmbedDocuments returns one vector per text, in input order, from a single
// request. 429 and 5xx responses are retried with backoff, honouring Retry-After.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts, Dimensions: c.dimensions})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	url := c.baseURL + "/embeddings"

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("openai: retrying embeddings (attempt %d): %v", attempt, lastErr)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("openai: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: openai: %v", domain.ErrProvider, err)
			if attempt == c.maxRetries {
				break
			}
			if err := c.sleep(ctx, retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = &domain.RateLimitError{Provider: "openai", RetryAfter: wait}
			} else {
				lastErr = fmt.Errorf("%w: openai embeddings failed: %s", domain.ErrProvider, resp.Status)
			}
			if attempt == c.maxRetries {
				break
			}
			if wait == 0 {
				wait = retryDelay(attempt)
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: openai: read response: %v", domain.ErrProvider, readErr)
		}

		var out embeddingResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("%w: openai: decode response: %v", domain.ErrProvider, err)
		}
		if resp.StatusCode >= 300 {
			if out.Error != nil && out.Error.Message != "" {
				return nil, fmt.Errorf("%w: openai API error (%s): %s", domain.ErrProvider, out.Error.Type, out.Error.Message)
			}
			return nil, fmt.Errorf("%w: openai embeddings failed: %s", domain.ErrProvider, resp.Status)
		}
		return c.collect(out, len(texts))
	}
	return nil, lastErr
}

func (c *Client) collect(out embeddingResponse, want int) ([][]float32, error) {
	var vecs [][]float32
	switch {
	case len(out.Data) > 0:
		sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		vecs = make([][]float32, len(out.Data))
		for i, d := range out.Data {
			vecs[i] = d.Embedding
		}
	case len(out.Embeddings) > 0:
		vecs = out.Embeddings
	case len(out.Embedding) > 0:
		vecs = [][]float32{out.Embedding}
	}
	if len(vecs) != want {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs", domain.ErrProvider, len(vecs), want)
	}
	for _, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: openai returned an empty embedding", domain.ErrProvider)
		}
	}
	c.dimension.CompareAndSwap(0, int64(len(vecs[0])))
	return vecs, nil
}

func retryDelay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 5)
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
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
