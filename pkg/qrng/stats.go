package qrng

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat/distuv"
)

// Stats is an immutable snapshot of the operational counters.
//
// All counters increase monotonically and are reset only by an explicit
// ResetStats call. They measure cache operation, not bit quality; bit
// distribution lives in BitStats.
type Stats struct {
	TotalRequests      uint64 `json:"total_requests"`
	SuccessfulRequests uint64 `json:"successful_requests"`
	FailedRequests     uint64 `json:"failed_requests"`
	CacheHits          uint64 `json:"cache_hits"`
	PrefetchCount      uint64 `json:"prefetch_count"`
	RateLimitHits      uint64 `json:"rate_limit_hits"`
	TimeoutErrors      uint64 `json:"timeout_errors"`
	NetworkErrors      uint64 `json:"network_errors"`
}

// BitStats reports the observed 0/1 distribution together with an exact
// two-sided binomial significance test against the configured fair ratio.
type BitStats struct {
	SampleSize int64 `json:"sample_size"`
	Count0     int64 `json:"count_0"`
	Count1     int64 `json:"count_1"`

	Ratio0 float64 `json:"ratio_0"`
	Ratio1 float64 `json:"ratio_1"`

	// Bias is the absolute deviation of the zero ratio from the fair ratio.
	Bias float64 `json:"bias"`

	// PValue is the exact two-sided binomial test p-value for observing
	// Count1 ones out of SampleSize under the null hypothesis p = fair.
	PValue float64 `json:"p_value"`

	// Significant is true when PValue falls below the significance level.
	Significant bool `json:"significant"`

	Runtime        string `json:"runtime"`
	RuntimeSeconds int64  `json:"runtime_seconds"`
}

// tracker accumulates counters and the bit histogram. A single mutex guards
// the whole struct; callers only ever receive value copies.
type tracker struct {
	mu sync.Mutex

	stats  Stats
	count0 int64
	count1 int64

	startedAt time.Time
}

func newTracker() *tracker {
	return &tracker{startedAt: time.Now()}
}

func (t *tracker) fetchStarted() {
	t.mu.Lock()
	t.stats.TotalRequests++
	t.mu.Unlock()
}

func (t *tracker) fetchSucceeded() {
	t.mu.Lock()
	t.stats.SuccessfulRequests++
	t.mu.Unlock()
}

func (t *tracker) fetchFailed() {
	t.mu.Lock()
	t.stats.FailedRequests++
	t.mu.Unlock()
}

func (t *tracker) rateLimited() {
	t.mu.Lock()
	t.stats.RateLimitHits++
	t.mu.Unlock()
}

func (t *tracker) timedOut() {
	t.mu.Lock()
	t.stats.TimeoutErrors++
	t.mu.Unlock()
}

func (t *tracker) networkFailed() {
	t.mu.Lock()
	t.stats.NetworkErrors++
	t.mu.Unlock()
}

func (t *tracker) prefetchStarted() {
	t.mu.Lock()
	t.stats.PrefetchCount++
	t.mu.Unlock()
}

// recordBit counts a delivered bit in both the hit counter and the
// distribution histogram.
func (t *tracker) recordBit(bit int) {
	t.mu.Lock()
	t.stats.CacheHits++
	if bit == 0 {
		t.count0++
	} else {
		t.count1++
	}
	t.mu.Unlock()
}

// snapshot returns a value copy of the counters.
func (t *tracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// reset zeroes the counters and the histogram together.
func (t *tracker) reset() {
	t.mu.Lock()
	t.stats = Stats{}
	t.count0 = 0
	t.count1 = 0
	t.mu.Unlock()
}

// bitStats computes the distribution report under the given fairness
// parameters. When no bits have been observed it returns the neutral
// report: zero ratios, zero bias, p-value 1, not significant.
func (t *tracker) bitStats(fairRatio, alpha float64) BitStats {
	t.mu.Lock()
	count0, count1 := t.count0, t.count1
	startedAt := t.startedAt
	t.mu.Unlock()

	runtime := time.Since(startedAt)
	bs := BitStats{
		Count0:         count0,
		Count1:         count1,
		SampleSize:     count0 + count1,
		PValue:         1.0,
		Runtime:        humanDuration(startedAt),
		RuntimeSeconds: int64(runtime.Seconds()),
	}

	if bs.SampleSize == 0 {
		return bs
	}

	total := float64(bs.SampleSize)
	bs.Ratio0 = round4(float64(count0) / total)
	bs.Ratio1 = round4(float64(count1) / total)
	bs.Bias = round4(math.Abs(float64(count0)/total - fairRatio))

	// Ones are the "successes" of the binomial test; the null hypothesis
	// is that a one appears with probability fairRatio.
	p := binomTwoSided(count1, bs.SampleSize, fairRatio)
	bs.PValue = round4(p)
	bs.Significant = p < alpha

	return bs
}

// binomTwoSided computes the exact two-sided binomial test p-value for k
// successes in n trials under success probability p: the total probability
// of all outcomes no more likely than the observed one.
func binomTwoSided(k, n int64, p float64) float64 {
	dist := distuv.Binomial{N: float64(n), P: p}

	// Small relative slack absorbs floating point noise when comparing
	// probabilities that are mathematically equal.
	threshold := dist.Prob(float64(k)) * (1 + 1e-7)

	var sum float64
	for i := int64(0); i <= n; i++ {
		if pi := dist.Prob(float64(i)); pi <= threshold {
			sum += pi
		}
	}

	return math.Min(1, sum)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// humanDuration renders the elapsed time since start in plain words.
func humanDuration(start time.Time) string {
	return strings.TrimSpace(humanize.RelTime(start, time.Now(), "", ""))
}
