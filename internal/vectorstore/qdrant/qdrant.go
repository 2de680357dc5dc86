// Package qdrant is a minimal REST client to Qdrant. One collection serves as
// the index; namespaces are a keyword payload field filtered on every search.
package qdrant

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
	"time"

	"github.com/google/uuid"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

const (
	fieldNamespace = "namespace"
	fieldRecordID  = "record_id"
)

var errNotFound = errors.New("not found")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Storage implements domain.VectorStore on a Qdrant collection with cosine distance.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: qdrant url is empty", domain.ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is empty", domain.ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// EnsureIndex creates the collection and its namespace payload index when missing.
// An existing collection must have the requested vector size.
func (s *Storage) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	size, _, err := s.describe(ctx)
	switch {
	case err == nil:
		if size != dimension {
			return fmt.Errorf("%w: collection %q has vector size %d, embedder produces %d", domain.ErrInvalidConfig, s.collection, size, dimension)
		}
		return nil
	case !errors.Is(err, errNotFound):
		return err
	}

	logger.Info("qdrant: creating collection %s (size %d)", s.collection, dimension)
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.path(""), body, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": fieldNamespace, "field_schema": "keyword"}
	return s.do(ctx, http.MethodPut, s.path("/index?wait=true"), index, nil)
}

// PointID maps a namespaced record ID onto the UUID space Qdrant requires.
func PointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+id)).String()
}

func (s *Storage) Upsert(ctx context.Context, namespace string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[fieldNamespace] = namespace
		payload[fieldRecordID] = r.ID
		points[i] = map[string]any{
			"id":      PointID(namespace, r.ID),
			"vector":  r.Values,
			"payload": payload,
		}
	}
	return s.do(ctx, http.MethodPut, s.path("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *Storage) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       namespaceFilter(namespace),
	}
	var resp struct {
		Result []struct {
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := domain.Match{Score: r.Score}
		if v, ok := r.Payload[fieldRecordID].(string); ok {
			m.ID = v
		}
		if includeMetadata {
			m.Metadata = make(map[string]string, len(r.Payload))
			for k, v := range r.Payload {
				if k == fieldNamespace || k == fieldRecordID {
					continue
				}
				m.Metadata[k] = fmt.Sprint(v)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// ListIndexes returns the names of all collections.
func (s *Storage) ListIndexes(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.url+"/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

// DescribeIndexStats reports the collection size and, where the server supports
// facets, per-namespace counts.
func (s *Storage) DescribeIndexStats(ctx context.Context) (domain.IndexStats, error) {
	size, count, err := s.describe(ctx)
	if errors.Is(err, errNotFound) {
		return domain.IndexStats{}, fmt.Errorf("%w: qdrant collection %q", domain.ErrIndexNotFound, s.collection)
	}
	if err != nil {
		return domain.IndexStats{}, err
	}
	st := domain.IndexStats{Dimension: size, TotalVectorCount: count, Namespaces: map[string]int{}}

	facet := map[string]any{"key": fieldNamespace, "limit": 1000, "exact": true}
	var resp struct {
		Result struct {
			Hits []struct {
				Value any `json:"value"`
				Count int `json:"count"`
			} `json:"hits"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.path("/facet"), facet, &resp); err != nil {
		logger.Debug("qdrant: namespace facet unavailable: %v", err)
		return st, nil
	}
	for _, h := range resp.Result.Hits {
		st.Namespaces[fmt.Sprint(h.Value)] = h.Count
	}
	return st, nil
}

// Clear deletes every point of the namespace. A missing collection is already clear.
func (s *Storage) Clear(ctx context.Context, namespace string) error {
	body := map[string]any{"filter": namespaceFilter(namespace)}
	err := s.do(ctx, http.MethodPost, s.path("/points/delete?wait=true"), body, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func namespaceFilter(namespace string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": fieldNamespace, "match": map[string]any{"value": namespace}},
		},
	}
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) describe(ctx context.Context) (size, count int, err error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.path(""), nil, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, resp.Result.PointsCount, nil
}

func (s *Storage) path(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: qdrant %s %s: %v", domain.ErrProvider, method, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var wait time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return &domain.RateLimitError{Provider: "qdrant", RetryAfter: wait}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w: qdrant %s %s", domain.ErrProvider, errNotFound, method, url)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: qdrant %s %s failed: %s: %s", domain.ErrProvider, method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: qdrant: decode response: %v", domain.ErrProvider, err)
		}
	}
	return nil
}
