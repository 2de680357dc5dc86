package domain

import (
	"errors"
	"fmt"
	"time"
)

// Configuration errors. These are reported before any external call is made.
var (
	// ErrInvalidConfig indicates a malformed setting such as overlap >= chunk size.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingCredentials indicates a provider API key is not available.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrIndexNotFound indicates the configured index does not exist in the vector store.
	ErrIndexNotFound = errors.New("index not found")
)

// Extraction errors. Ingestion aborts without uploading anything.
var (
	// ErrExtraction indicates the document could not be read.
	ErrExtraction = errors.New("text extraction failed")

	// ErrEmptyDocument indicates extraction succeeded but produced no text.
	ErrEmptyDocument = errors.New("document contains no text")
)

// Provider errors.
var (
	// ErrProvider indicates an embedding or vector store call failed.
	ErrProvider = errors.New("provider request failed")

	// ErrRateLimited indicates the provider rejected the call with a rate limit.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError is returned by provider clients when a call is rejected with HTTP 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// Is reports ErrRateLimited and ErrProvider as matches.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrProvider
}

// BatchError reports a failed upload batch during ingestion.
// Batches before Batch are already committed to the store.
type BatchError struct {
	Batch     int
	Batches   int
	Committed int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d of %d failed (%d records committed): %v", e.Batch, e.Batches, e.Committed, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
