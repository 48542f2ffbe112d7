package qrng

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned when the cache configuration is invalid,
	// for example when the prefetch threshold is not below the cache size.
	ErrConfig = errors.New("invalid cache configuration")

	// ErrMissingAPIKey is returned at construction when no credential for
	// the quantum service is available.
	ErrMissingAPIKey = errors.New("quantum API key is required")

	// ErrAuth is returned when the quantum service rejects the credential
	// (HTTP 401/403). It is terminal: the fetch loop never retries it.
	ErrAuth = errors.New("quantum API rejected the credential")

	// ErrNoData is returned by GetBit/GetBits when both buffers are empty.
	// The caller may retry later; the cache never blocks a consumer on
	// network I/O to recover from this condition.
	ErrNoData = errors.New("no quantum data available")

	// ErrInitialLoad is returned when the synchronous load at construction
	// time exhausts its retries. The cache fails to construct.
	ErrInitialLoad = errors.New("initial quantum data load failed")
)

// FetchError reports that a batch fetch exhausted all retry attempts.
// Individual transient failures (timeouts, network errors, rate limiting)
// are absorbed by the retry loop and never surface on their own; only this
// final exhaustion result propagates.
type FetchError struct {
	// Attempts is the number of attempts made before giving up.
	Attempts int

	// Last is the error observed on the final attempt, if any.
	Last error
}

func (e *FetchError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("quantum fetch failed after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("quantum fetch failed after %d attempts", e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Last
}

// ValidationError reports a bit count outside the allowed range.
type ValidationError struct {
	Count int
	Max   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("requested bits (%d) exceed maximum (%d) per call", e.Count, e.Max)
}
