// Package qrng implements a buffered, prefetching cache for quantum random
// bits served by an external RNG service.
//
// The cache hides network latency, rate limits, and transient failures behind
// a double-buffering scheme: consumers drain an active buffer while a
// single-flight background fetch refills the standby buffer. Only the very
// first load at construction time blocks the caller; in steady state a
// consumer either gets a bit immediately or observes ErrNoData.
//
// Bit ordering is preserved: within a batch, bits are delivered exactly in
// the order the source returned them, and the active buffer is fully drained
// before any bit of the swapped-in standby buffer is served.
package qrng

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/consciouslab/qrand/internal/logger"
)

// Cache is a double-buffered, prefetching bit cache.
//
// All methods are safe for concurrent use. A single mutex covers the read
// cursor, the buffer swap, the standby install, and the prefetch flag, so
// multiple consumers can call GetBit concurrently without losing or
// duplicating bits.
type Cache struct {
	cfg    Config
	source Source
	stats  *tracker

	mu          sync.Mutex
	active      []int
	cursor      int
	standby     []int
	prefetching bool
	lastFetch   time.Time

	// wg tracks the in-flight prefetch goroutine so Close can join it.
	wg sync.WaitGroup
}

// Status is a point-in-time view of the cache buffers.
type Status struct {
	RemainingBits     int       `json:"remaining_bits"`
	StandbyBits       int       `json:"next_buffer_bits"`
	Prefetching       bool      `json:"is_prefetching"`
	APIURL            string    `json:"api_url"`
	LastFetchTime     time.Time `json:"last_fetch_time"`
	CacheSize         int       `json:"cache_size"`
	PrefetchThreshold int       `json:"prefetch_threshold"`
}

// New constructs a cache backed by the quantum HTTP API and performs the
// blocking initial load.
//
// Construction fails with ErrConfig for invalid configuration, with
// ErrMissingAPIKey when no credential is supplied, with ErrAuth when the
// service rejects the credential, and with ErrInitialLoad when the first
// fetch exhausts its retries.
func New(ctx context.Context, cfg Config, apiKey string) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	stats := newTracker()
	client := newClient(cfg, apiKey, stats)
	return newCache(ctx, cfg, client, stats)
}

// NewWithSource constructs a cache over a custom bit source. The source is
// responsible for its own retry policy; the cache only schedules fetches.
func NewWithSource(ctx context.Context, cfg Config, src Source) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newCache(ctx, cfg, src, newTracker())
}

func newCache(ctx context.Context, cfg Config, src Source, stats *tracker) (*Cache, error) {
	c := &Cache{
		cfg:    cfg,
		source: src,
		stats:  stats,
	}

	logger.Info("Initializing quantum cache",
		"api_url", cfg.APIURL,
		"cache_size", cfg.CacheSize,
		"prefetch_threshold", cfg.PrefetchThreshold,
	)

	// Initial load is the only fetch allowed to block a caller.
	bits, err := src.FetchBatch(ctx)
	if err != nil {
		if errors.Is(err, ErrAuth) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInitialLoad, err)
	}

	c.active = bits
	c.lastFetch = time.Now()
	logger.Info("Initial quantum data loaded", "bits", len(bits))

	return c, nil
}

// GetBit returns the next bit from the cache.
//
// It first evaluates the prefetch trigger, then the swap trigger, and only
// then serves from the active buffer. When both buffers are empty it returns
// ErrNoData without blocking; the caller may retry once a background fetch
// has landed.
func (c *Cache) GetBit() (int, error) {
	c.mu.Lock()

	if c.shouldPrefetchLocked() {
		c.startPrefetchLocked()
	}

	if c.remainingLocked() == 0 && len(c.standby) > 0 {
		c.active = c.standby
		c.standby = nil
		c.cursor = 0
		logger.Info("Buffer swapped", "bits", len(c.active))
	}

	if c.cursor >= len(c.active) {
		c.mu.Unlock()
		return 0, ErrNoData
	}

	bit := c.active[c.cursor]
	c.cursor++
	c.mu.Unlock()

	c.stats.recordBit(bit)
	return bit, nil
}

// GetBits returns count bits in delivery order.
//
// A non-positive count yields an empty slice and no error. A count above
// MaxBitsPerCall yields a ValidationError. The call fails atomically: if any
// underlying GetBit fails, no partial result is returned.
func (c *Cache) GetBits(count int) ([]int, error) {
	if count <= 0 {
		return []int{}, nil
	}
	if count > c.cfg.MaxBitsPerCall {
		return nil, &ValidationError{Count: count, Max: c.cfg.MaxBitsPerCall}
	}

	bits := make([]int, 0, count)
	for i := 0; i < count; i++ {
		bit, err := c.GetBit()
		if err != nil {
			return nil, err
		}
		bits = append(bits, bit)
	}
	return bits, nil
}

// Status returns a snapshot of the buffer state.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		RemainingBits:     c.remainingLocked(),
		StandbyBits:       len(c.standby),
		Prefetching:       c.prefetching,
		APIURL:            c.cfg.APIURL,
		LastFetchTime:     c.lastFetch,
		CacheSize:         c.cfg.CacheSize,
		PrefetchThreshold: c.cfg.PrefetchThreshold,
	}
}

// Stats returns a snapshot of the operational counters.
func (c *Cache) Stats() Stats {
	return c.stats.snapshot()
}

// ResetStats zeroes the counters and the bit histogram.
func (c *Cache) ResetStats() {
	c.stats.reset()
	logger.Info("Statistics reset")
}

// BitStats returns the bit distribution report, including the exact
// two-sided binomial significance test against the configured fair ratio.
func (c *Cache) BitStats() BitStats {
	return c.stats.bitStats(c.cfg.FairRatio, c.cfg.SignificanceLevel)
}

// Close waits for any in-flight prefetch to finish. The cache must not be
// used after Close returns.
func (c *Cache) Close() {
	c.wg.Wait()
}

func (c *Cache) remainingLocked() int {
	return len(c.active) - c.cursor
}

// shouldPrefetchLocked implements the prefetch trigger: the active buffer
// has drained to the threshold, nothing is in flight, and the standby
// buffer is empty.
func (c *Cache) shouldPrefetchLocked() bool {
	return c.remainingLocked() <= c.cfg.PrefetchThreshold &&
		!c.prefetching &&
		len(c.standby) == 0
}

// startPrefetchLocked launches the single-flight background fetch.
// The caller must hold c.mu.
func (c *Cache) startPrefetchLocked() {
	c.prefetching = true
	c.stats.prefetchStarted()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			// Clear the flag on every exit path so a failed fetch can
			// be retried by a later trigger.
			c.mu.Lock()
			c.prefetching = false
			c.mu.Unlock()
		}()

		logger.Debug("Starting quantum data prefetch")
		bits, err := c.source.FetchBatch(context.Background())

		c.mu.Lock()
		if err != nil {
			// The active buffer is never discarded on prefetch failure.
			c.standby = nil
			c.mu.Unlock()
			logger.Error("Prefetch failed", "error", err.Error())
			return
		}
		c.standby = bits
		c.lastFetch = time.Now()
		c.mu.Unlock()
		logger.Info("Prefetch complete", "bits", len(bits))
	}()
}
