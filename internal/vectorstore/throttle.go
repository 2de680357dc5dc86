// Package vectorstore holds the vector store backends and the decorators shared by them.
package vectorstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

// IndexEnsurer is implemented by stores that can create their index on demand.
type IndexEnsurer interface {
	EnsureIndex(ctx context.Context, dimension int) error
}

// RateLimitConfig configures the token bucket placed in front of a store.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables pacing.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
	// MaxRetries bounds the retries of a call rejected with a rate limit.
	MaxRetries int
}

// Throttled paces calls to a store with a token bucket and retries calls the
// provider rejected with a rate limit, honouring the provider's Retry-After.
type Throttled struct {
	inner      domain.VectorStore
	limiter    *rate.Limiter
	maxRetries int

	mu      sync.Mutex
	retryAt time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

// NewThrottled wraps store with pacing and rate limit backoff.
func NewThrottled(store domain.VectorStore, cfg RateLimitConfig) *Throttled {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)
	return &Throttled{
		inner:      store,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: max(cfg.MaxRetries, 0),
		sleep:      sleepContext,
	}
}

// EnsureIndex forwards to the decorated store when it supports index creation.
func (t *Throttled) EnsureIndex(ctx context.Context, dimension int) error {
	e, ok := t.inner.(IndexEnsurer)
	if !ok {
		return nil
	}
	return t.do(ctx, "ensure index", func() error { return e.EnsureIndex(ctx, dimension) })
}

func (t *Throttled) Upsert(ctx context.Context, namespace string, records []domain.Record) error {
	return t.do(ctx, "upsert", func() error { return t.inner.Upsert(ctx, namespace, records) })
}

func (t *Throttled) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	var out []domain.Match
	err := t.do(ctx, "query", func() error {
		var err error
		out, err = t.inner.Query(ctx, namespace, vector, topK, includeMetadata)
		return err
	})
	return out, err
}

func (t *Throttled) ListIndexes(ctx context.Context) ([]string, error) {
	var out []string
	err := t.do(ctx, "list indexes", func() error {
		var err error
		out, err = t.inner.ListIndexes(ctx)
		return err
	})
	return out, err
}

func (t *Throttled) DescribeIndexStats(ctx context.Context) (domain.IndexStats, error) {
	var out domain.IndexStats
	err := t.do(ctx, "describe index stats", func() error {
		var err error
		out, err = t.inner.DescribeIndexStats(ctx)
		return err
	})
	return out, err
}

func (t *Throttled) Clear(ctx context.Context, namespace string) error {
	return t.do(ctx, "clear", func() error { return t.inner.Clear(ctx, namespace) })
}

func (t *Throttled) Close() error { return t.inner.Close() }

func (t *Throttled) do(ctx context.Context, op string, call func() error) error {
	for attempt := 0; ; attempt++ {
		if err := t.wait(ctx); err != nil {
			return err
		}
		err := call()
		var rl *domain.RateLimitError
		if err == nil || !errors.As(err, &rl) || attempt >= t.maxRetries {
			return err
		}
		d := rl.RetryAfter
		if d <= 0 {
			d = backoff(attempt)
		}
		logger.Warn("%s rate limited, retrying in %s (attempt %d of %d)", op, d, attempt+1, t.maxRetries)
		t.mu.Lock()
		t.retryAt = time.Now().Add(d)
		t.mu.Unlock()
	}
}

// wait blocks for any pending rate limit backoff, then for a token.
func (t *Throttled) wait(ctx context.Context) error {
	t.mu.Lock()
	retryAt := t.retryAt
	t.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		if err := t.sleep(ctx, d); err != nil {
			return err
		}
	}
	return t.limiter.Wait(ctx)
}

func backoff(attempt int) time.Duration {
	attempt = min(attempt, 6)
	d := 500 * time.Millisecond << attempt
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
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
