package qrng

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scriptable Source for cache tests. It returns the queued
// batches in order; once exhausted it returns failErr (or an exhaustion
// error if none is set). When block is non-nil, FetchBatch waits on it
// before returning, which lets tests hold a prefetch in flight.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]int
	failErr error
	block   chan struct{}
	calls   int
}

func (f *fakeSource) FetchBatch(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	f.calls++
	var batch []int
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	block := f.block
	failErr := f.failErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	if batch == nil {
		if failErr != nil {
			return nil, failErr
		}
		return nil, &FetchError{Attempts: 1}
	}
	return batch, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig(size, threshold int) Config {
	return Config{
		CacheSize:         size,
		PrefetchThreshold: threshold,
		MaxBitsPerCall:    1000,
		RequestTimeout:    time.Second,
		MaxRetries:        1,
		RateLimitWait:     time.Millisecond,
		BackoffCap:        time.Millisecond,
	}
}

func TestNewWithSource_ConfigInvariant(t *testing.T) {
	src := &fakeSource{batches: [][]int{{1, 0}}}

	cases := []struct {
		name      string
		size      int
		threshold int
	}{
		{"equal", 10, 10},
		{"threshold above size", 10, 20},
		{"zero size", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWithSource(context.Background(), testConfig(tc.size, tc.threshold), src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), testConfig(10, 5), "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewWithSource_InitialLoadFailure(t *testing.T) {
	src := &fakeSource{failErr: &FetchError{Attempts: 5}}

	_, err := NewWithSource(context.Background(), testConfig(10, 5), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialLoad)
}

func TestGetBit_Ordering(t *testing.T) {
	batch := []int{1, 0, 1, 1, 0, 0, 1, 0, 1, 0}
	src := &fakeSource{batches: [][]int{batch, {1, 1, 1, 1}}}

	c, err := NewWithSource(context.Background(), testConfig(10, 5), src)
	require.NoError(t, err)
	defer c.Close()

	for i, want := range batch {
		got, err := c.GetBit()
		require.NoError(t, err, "bit %d", i)
		assert.Equal(t, want, got, "bit %d out of order", i)
	}
}

func TestGetBit_SwapsExhaustedBuffer(t *testing.T) {
	src := &fakeSource{batches: [][]int{{1, 1, 0, 0}, {0, 1, 0}}}

	c, err := NewWithSource(context.Background(), testConfig(4, 2), src)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 4; i++ {
		_, err := c.GetBit()
		require.NoError(t, err)
	}

	// Wait for the prefetch to land in the standby buffer.
	require.Eventually(t, func() bool {
		return c.Status().StandbyBits == 3
	}, time.Second, time.Millisecond)

	// Next read swaps: first bit of the former standby, cursor at 1.
	bit, err := c.GetBit()
	require.NoError(t, err)
	assert.Equal(t, 0, bit)
	assert.Equal(t, 2, c.Status().RemainingBits)
	assert.Equal(t, 0, c.Status().StandbyBits)
}

func TestGetBit_NoDataWhenBothBuffersEmpty(t *testing.T) {
	src := &fakeSource{batches: [][]int{{1, 0}}}

	c, err := NewWithSource(context.Background(), testConfig(2, 0), src)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetBit()
	require.NoError(t, err)
	_, err = c.GetBit()
	require.NoError(t, err)

	// Any prefetch attempt fails, so the standby buffer stays empty.
	require.Eventually(t, func() bool {
		return !c.Status().Prefetching
	}, time.Second, time.Millisecond)

	_, err = c.GetBit()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPrefetch_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{
		batches: [][]int{{1, 0, 1, 0}, {1, 1, 1, 1}},
		block:   nil,
	}

	c, err := NewWithSource(context.Background(), testConfig(4, 3), src)
	require.NoError(t, err)

	// Hold the prefetch in flight and hammer the trigger.
	src.mu.Lock()
	src.block = block
	src.mu.Unlock()

	for i := 0; i < 4; i++ {
		_, err := c.GetBit()
		require.NoError(t, err)
	}

	// Initial load plus exactly one prefetch, no matter how many reads
	// crossed the threshold while it was in flight. The prefetch runs in
	// a goroutine, so wait for it to reach the source before asserting.
	require.Eventually(t, func() bool {
		return src.callCount() >= 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, src.callCount())
	assert.Equal(t, uint64(1), c.Stats().PrefetchCount)

	close(block)
	c.Close()
}

func TestGetBits_Validation(t *testing.T) {
	src := &fakeSource{batches: [][]int{{1, 0, 1, 0}}}

	cfg := testConfig(4, 1)
	cfg.MaxBitsPerCall = 4

	c, err := NewWithSource(context.Background(), cfg, src)
	require.NoError(t, err)
	defer c.Close()

	bits, err := c.GetBits(0)
	require.NoError(t, err)
	assert.Empty(t, bits)

	bits, err = c.GetBits(-3)
	require.NoError(t, err)
	assert.Empty(t, bits)

	_, err = c.GetBits(5)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 5, verr.Count)
	assert.Equal(t, 4, verr.Max)
}

func TestGetBits_OrderAndAtomicFailure(t *testing.T) {
	src := &fakeSource{batches: [][]int{{1, 0, 1}}}

	c, err := NewWithSource(context.Background(), testConfig(3, 0), src)
	require.NoError(t, err)
	defer c.Close()

	bits, err := c.GetBits(3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, bits)

	// Buffers are exhausted: the whole call fails, no partial result.
	bits, err = c.GetBits(2)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, bits)
}

func TestScenario_ThresholdTriggersOnePrefetch(t *testing.T) {
	batch := []int{1, 0, 1, 1, 0, 0, 1, 0, 1, 0}
	block := make(chan struct{})
	defer close(block)

	src := &fakeSource{batches: [][]int{batch, {1, 1}}}

	c, err := NewWithSource(context.Background(), testConfig(10, 5), src)
	require.NoError(t, err)

	src.mu.Lock()
	src.block = block
	src.mu.Unlock()

	var got []int
	for i := 0; i < 6; i++ {
		bit, err := c.GetBit()
		require.NoError(t, err)
		got = append(got, bit)
	}

	assert.Equal(t, []int{1, 0, 1, 1, 0, 0}, got)
	assert.Equal(t, 4, c.Status().RemainingBits)
	assert.Equal(t, uint64(1), c.Stats().PrefetchCount)
	assert.Equal(t, uint64(6), c.Stats().CacheHits)
}

func TestGetBit_Concurrent(t *testing.T) {
	const total = 400
	batch := make([]int, total)
	for i := range batch {
		batch[i] = i % 2
	}
	src := &fakeSource{batches: [][]int{batch}}

	cfg := testConfig(total, 0)
	c, err := NewWithSource(context.Background(), cfg, src)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, total)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/8; i++ {
				if _, err := c.GetBit(); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent GetBit failed: %v", err)
	}

	// Every bit was delivered exactly once.
	stats := c.Stats()
	assert.Equal(t, uint64(total), stats.CacheHits)

	bs := c.BitStats()
	assert.Equal(t, int64(total/2), bs.Count0)
	assert.Equal(t, int64(total/2), bs.Count1)
}

func TestPrefetchFailure_KeepsActiveBuffer(t *testing.T) {
	src := &fakeSource{
		batches: [][]int{{1, 1, 1, 1}},
		failErr: errors.New("source down"),
	}

	c, err := NewWithSource(context.Background(), testConfig(4, 3), src)
	require.NoError(t, err)
	defer c.Close()

	// First read triggers a prefetch that fails; serving continues from
	// the active buffer regardless.
	for i := 0; i < 4; i++ {
		bit, err := c.GetBit()
		require.NoError(t, err)
		assert.Equal(t, 1, bit)
	}
}
