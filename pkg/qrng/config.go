package qrng

import (
	"fmt"
	"time"
)

// DefaultAPIURL is the public endpoint of the ANU quantum random number API.
const DefaultAPIURL = "https://api.quantumnumbers.anu.edu.au/"

// Config holds the cache and fetch configuration.
//
// The configuration is fixed at construction time. CacheSize must be
// strictly greater than PrefetchThreshold so that a prefetch can complete
// before the active buffer drains.
type Config struct {
	// CacheSize is the number of bits fetched per batch. Must be > 0.
	CacheSize int

	// PrefetchThreshold triggers a background fetch once the remaining
	// bits in the active buffer drop to or below this value.
	// Must be < CacheSize.
	PrefetchThreshold int

	// RequestTimeout bounds each individual HTTP request to the source.
	RequestTimeout time.Duration

	// MaxRetries is the number of fetch attempts before giving up.
	MaxRetries int

	// MaxBitsPerCall bounds a single GetBits call.
	MaxBitsPerCall int

	// RateLimitWait is how long to wait after an HTTP 429 before the
	// next attempt. A rate-limited attempt consumes a retry slot but not
	// an exponential backoff sleep.
	RateLimitWait time.Duration

	// BackoffCap is the upper bound on the exponential backoff delay
	// between transient failures.
	BackoffCap time.Duration

	// SignificanceLevel is the alpha for the bias significance test.
	SignificanceLevel float64

	// FairRatio is the expected ratio of zeros for an unbiased source.
	FairRatio float64

	// APIURL overrides the quantum source endpoint. Empty uses DefaultAPIURL.
	APIURL string
}

// DefaultConfig returns the production defaults, matching the limits of the
// public ANU API (1024 bits per request, 60s rate-limit window).
func DefaultConfig() Config {
	return Config{
		CacheSize:         1024,
		PrefetchThreshold: 512,
		RequestTimeout:    10 * time.Second,
		MaxRetries:        5,
		MaxBitsPerCall:    1024,
		RateLimitWait:     60 * time.Second,
		BackoffCap:        60 * time.Second,
		SignificanceLevel: 0.05,
		FairRatio:         0.5,
		APIURL:            DefaultAPIURL,
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.CacheSize <= 0 {
		return fmt.Errorf("%w: cache size must be positive, got %d", ErrConfig, c.CacheSize)
	}
	if c.PrefetchThreshold < 0 {
		return fmt.Errorf("%w: prefetch threshold must not be negative, got %d", ErrConfig, c.PrefetchThreshold)
	}
	if c.CacheSize <= c.PrefetchThreshold {
		return fmt.Errorf("%w: cache size (%d) must be greater than prefetch threshold (%d)",
			ErrConfig, c.CacheSize, c.PrefetchThreshold)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: max retries must be positive, got %d", ErrConfig, c.MaxRetries)
	}
	if c.MaxBitsPerCall <= 0 {
		return fmt.Errorf("%w: max bits per call must be positive, got %d", ErrConfig, c.MaxBitsPerCall)
	}
	if c.FairRatio <= 0 || c.FairRatio >= 1 {
		return fmt.Errorf("%w: fair ratio must be in (0, 1), got %g", ErrConfig, c.FairRatio)
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		return fmt.Errorf("%w: significance level must be in (0, 1), got %g", ErrConfig, c.SignificanceLevel)
	}
	return nil
}

// withDefaults fills zero values with production defaults so callers can
// specify only the fields they care about.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxBitsPerCall == 0 {
		c.MaxBitsPerCall = def.MaxBitsPerCall
	}
	if c.RateLimitWait == 0 {
		c.RateLimitWait = def.RateLimitWait
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.SignificanceLevel == 0 {
		c.SignificanceLevel = def.SignificanceLevel
	}
	if c.FairRatio == 0 {
		c.FairRatio = def.FairRatio
	}
	if c.APIURL == "" {
		c.APIURL = def.APIURL
	}
	return c
}
