package qrng

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientConfig(apiURL string, size, retries int) Config {
	return Config{
		CacheSize:         size,
		PrefetchThreshold: size / 2,
		MaxBitsPerCall:    size,
		RequestTimeout:    time.Second,
		MaxRetries:        retries,
		RateLimitWait:     time.Millisecond,
		BackoffCap:        time.Millisecond,
		APIURL:            apiURL,
	}
}

func serveBits(t *testing.T, data []int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "uint8", r.URL.Query().Get("type"))
		_ = json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
	}
}

func TestFetchBatch_MapsValuesToBits(t *testing.T) {
	srv := httptest.NewServer(serveBits(t, []int{0, 1, 2, 3, 254, 255}))
	defer srv.Close()

	stats := newTracker()
	client := newClient(clientConfig(srv.URL, 6, 3), "test-key", stats)

	bits, err := client.FetchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1, 0, 1}, bits)

	snap := stats.snapshot()
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.SuccessfulRequests)
	assert.Equal(t, uint64(0), snap.FailedRequests)
}

func TestFetchBatch_RateLimitRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(apiResponse{Success: true, Data: []int{1, 0}})
	}))
	defer srv.Close()

	stats := newTracker()
	client := newClient(clientConfig(srv.URL, 2, 3), "test-key", stats)

	bits, err := client.FetchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, bits)
	assert.Equal(t, int32(2), calls.Load())

	snap := stats.snapshot()
	assert.Equal(t, uint64(1), snap.RateLimitHits)
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.SuccessfulRequests)
}

func TestFetchBatch_AuthIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	stats := newTracker()
	client := newClient(clientConfig(srv.URL, 8, 5), "test-key", stats)

	_, err := client.FetchBatch(context.Background())
	require.ErrorIs(t, err, ErrAuth)

	// No second attempt after a credential rejection.
	assert.Equal(t, int32(1), calls.Load())

	snap := stats.snapshot()
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.FailedRequests)
}

func TestFetchBatch_RetriesExhaust(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	stats := newTracker()
	client := newClient(clientConfig(srv.URL, 8, 3), "test-key", stats)

	_, err := client.FetchBatch(context.Background())

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 3, ferr.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	snap := stats.snapshot()
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.FailedRequests)
	assert.Equal(t, uint64(0), snap.SuccessfulRequests)
}

func TestFetchBatch_TimeoutCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := clientConfig(srv.URL, 8, 1)
	cfg.RequestTimeout = 10 * time.Millisecond

	stats := newTracker()
	client := newClient(cfg, "test-key", stats)

	_, err := client.FetchBatch(context.Background())
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)

	snap := stats.snapshot()
	assert.Equal(t, uint64(1), snap.TimeoutErrors)
}

func TestFetchBatch_APIFailurePayloadRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(apiResponse{Success: false, Message: "no data"})
			return
		}
		_ = json.NewEncoder(w).Encode(apiResponse{Success: true, Data: []int{7}})
	}))
	defer srv.Close()

	client := newClient(clientConfig(srv.URL, 1, 3), "test-key", newTracker())

	bits, err := client.FetchBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, bits)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNew_AuthFailureFailsConstruction(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := clientConfig(srv.URL, 8, 5)
	_, err := New(context.Background(), cfg, "bad-key")

	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_ExhaustionFailsConstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := clientConfig(srv.URL, 8, 2)
	_, err := New(context.Background(), cfg, "test-key")

	require.ErrorIs(t, err, ErrInitialLoad)
}
