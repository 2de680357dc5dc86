// Package pinecone is a REST client for a Pinecone serverless index.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

const (
	DefaultControlURL = "https://api.pinecone.io"
	APIVersion        = "2024-07"
)

var errNotFound = errors.New("not found")

// Config configures the Pinecone client.
type Config struct {
	APIKey string
	Index  string
	// ControlURL is the control plane base URL.
	ControlURL string
	// Host overrides the data plane host normally looked up from the control plane.
	Host    string
	Timeout time.Duration
}

// Storage implements domain.VectorStore against one Pinecone index.
type Storage struct {
	apiKey     string
	index      string
	controlURL string
	client     *http.Client

	mu   sync.Mutex
	host string
}

// NewStorage creates a client. The data plane host is resolved on first use.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: pinecone API key is empty", domain.ErrMissingCredentials)
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("%w: pinecone index name is empty", domain.ErrInvalidConfig)
	}
	if cfg.ControlURL == "" {
		cfg.ControlURL = DefaultControlURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Storage{
		apiKey:     cfg.APIKey,
		index:      cfg.Index,
		controlURL: strings.TrimRight(cfg.ControlURL, "/"),
		host:       normalizeHost(cfg.Host),
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Storage) Upsert(ctx context.Context, namespace string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	host, err := s.dataHost(ctx)
	if err != nil {
		return err
	}
	vecs := make([]vector, len(records))
	for i, r := range records {
		vecs[i] = vector{ID: r.ID, Values: r.Values, Metadata: r.Metadata}
	}
	body := map[string]any{"vectors": vecs, "namespace": namespace}
	var resp struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	if err := s.do(ctx, http.MethodPost, host+"/vectors/upsert", body, &resp); err != nil {
		return err
	}
	logger.Debug("pinecone: upserted %d vectors into %s/%s", resp.UpsertedCount, s.index, namespace)
	return nil
}

func (s *Storage) Query(ctx context.Context, namespace string, vec []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	host, err := s.dataHost(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"namespace":       namespace,
		"vector":          vec,
		"topK":            topK,
		"includeMetadata": includeMetadata,
		"includeValues":   false,
	}
	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float32        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.do(ctx, http.MethodPost, host+"/query", body, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		match := domain.Match{ID: m.ID, Score: m.Score}
		if includeMetadata && m.Metadata != nil {
			match.Metadata = make(map[string]string, len(m.Metadata))
			for k, v := range m.Metadata {
				match.Metadata[k] = stringify(v)
			}
		}
		out = append(out, match)
	}
	return out, nil
}

// ListIndexes returns the names of all indexes in the project.
func (s *Storage) ListIndexes(ctx context.Context) ([]string, error) {
	var resp struct {
		Indexes []struct {
			Name string `json:"name"`
		} `json:"indexes"`
	}
	if err := s.do(ctx, http.MethodGet, s.controlURL+"/indexes", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Indexes))
	for _, ix := range resp.Indexes {
		names = append(names, ix.Name)
	}
	return names, nil
}

func (s *Storage) DescribeIndexStats(ctx context.Context) (domain.IndexStats, error) {
	host, err := s.dataHost(ctx)
	if err != nil {
		return domain.IndexStats{}, err
	}
	var resp struct {
		Dimension        int `json:"dimension"`
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := s.do(ctx, http.MethodPost, host+"/describe_index_stats", map[string]any{}, &resp); err != nil {
		return domain.IndexStats{}, err
	}
	st := domain.IndexStats{
		Dimension:        resp.Dimension,
		TotalVectorCount: resp.TotalVectorCount,
		Namespaces:       make(map[string]int, len(resp.Namespaces)),
	}
	for name, ns := range resp.Namespaces {
		st.Namespaces[name] = ns.VectorCount
	}
	return st, nil
}

// Clear deletes every vector of the namespace. Pinecone answers 404 for a namespace it has never seen.
func (s *Storage) Clear(ctx context.Context, namespace string) error {
	host, err := s.dataHost(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{"deleteAll": true, "namespace": namespace}
	err = s.do(ctx, http.MethodPost, host+"/vectors/delete", body, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// dataHost returns the index's data plane URL, describing the index once if needed.
func (s *Storage) dataHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}
	var resp struct {
		Host string `json:"host"`
	}
	err := s.do(ctx, http.MethodGet, s.controlURL+"/indexes/"+s.index, nil, &resp)
	if errors.Is(err, errNotFound) {
		return "", fmt.Errorf("%w: pinecone index %q", domain.ErrIndexNotFound, s.index)
	}
	if err != nil {
		return "", err
	}
	if resp.Host == "" {
		return "", fmt.Errorf("%w: pinecone index %q has no host", domain.ErrProvider, s.index)
	}
	s.host = normalizeHost(resp.Host)
	return s.host, nil
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("pinecone: marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("pinecone: create request: %w", err)
	}
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("X-Pinecone-API-Version", APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: pinecone %s %s: %v", domain.ErrProvider, method, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{Provider: "pinecone", RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w: pinecone %s %s", domain.ErrProvider, errNotFound, method, url)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: pinecone %s %s failed: %s: %s", domain.ErrProvider, method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: pinecone: decode response: %v", domain.ErrProvider, err)
		}
	}
	return nil
}

func normalizeHost(h string) string {
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		h = "https://" + h
	}
	return strings.TrimRight(h, "/")
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
