package qrng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/consciouslab/qrand/internal/logger"
)

// Source supplies batches of random bits. The production implementation is
// Client; tests inject fakes to exercise the cache without the network.
type Source interface {
	// FetchBatch performs one logical fetch, including internal retries.
	// On success it returns the full batch in source order.
	FetchBatch(ctx context.Context) ([]int, error)
}

// Client fetches random bits from an ANU-style quantum RNG HTTP API.
//
// A single logical FetchBatch call may perform several HTTP attempts:
// transient failures (timeouts, network errors, rate limiting, unexpected
// status codes) are retried with exponential backoff up to MaxRetries.
// Credential rejection is terminal and aborts the call immediately.
type Client struct {
	apiURL     string
	apiKey     string
	batchSize  int
	maxRetries int
	rateWait   time.Duration
	backoffCap time.Duration

	httpClient *http.Client
	stats      *tracker
}

// apiResponse is the wire format of the quantum API.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    []int  `json:"data"`
	Message string `json:"message"`
}

// errRateLimited marks an attempt rejected with HTTP 429. The retry loop
// treats it specially: the attempt consumes a retry slot but skips the
// exponential backoff sleep (the rate-limit wait already happened).
var errRateLimited = errors.New("rate limited by quantum API")

// newClient builds a Client bound to the given stats tracker.
func newClient(cfg Config, apiKey string, stats *tracker) *Client {
	return &Client{
		apiURL:     cfg.APIURL,
		apiKey:     apiKey,
		batchSize:  cfg.CacheSize,
		maxRetries: cfg.MaxRetries,
		rateWait:   cfg.RateLimitWait,
		backoffCap: cfg.BackoffCap,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		stats:      stats,
	}
}

// FetchBatch requests one batch of random bits from the quantum API.
//
// The request/success/failure counters are each updated exactly once per
// call, regardless of how many HTTP attempts were needed.
func (c *Client) FetchBatch(ctx context.Context) ([]int, error) {
	c.stats.fetchStarted()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		bits, err := c.attempt(ctx, attempt)
		if err == nil {
			c.stats.fetchSucceeded()
			logger.Info("Fetched quantum bits",
				"bits", len(bits),
				"attempts", attempt+1,
				"duration", time.Since(start).String(),
			)
			return bits, nil
		}

		if errors.Is(err, ErrAuth) {
			// Terminal: the credential is wrong, retrying cannot help.
			c.stats.fetchFailed()
			return nil, err
		}

		lastErr = err

		if errors.Is(err, errRateLimited) {
			logger.Warn("Rate limit exceeded", "wait", c.rateWait.String())
			c.stats.rateLimited()
			c.sleep(ctx, c.rateWait)
			continue
		}

		if attempt < c.maxRetries-1 {
			wait := backoffDelay(attempt, c.backoffCap)
			logger.Debug("Retrying quantum fetch",
				"attempt", attempt+1,
				"wait", wait.String(),
				"error", err.Error(),
			)
			c.sleep(ctx, wait)
		}
	}

	c.stats.fetchFailed()
	logger.Error("All quantum fetch attempts failed",
		"attempts", c.maxRetries,
		"duration", time.Since(start).String(),
	)
	return nil, &FetchError{Attempts: c.maxRetries, Last: lastErr}
}

// attempt performs a single HTTP round-trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, attempt int) ([]int, error) {
	logger.Debug("Fetching quantum data", "attempt", attempt+1, "length", c.batchSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	q := url.Values{}
	q.Set("length", strconv.Itoa(c.batchSize))
	q.Set("type", "uint8")
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.stats.timedOut()
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		c.stats.networkFailed()
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decode(resp.Body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuth, resp.StatusCode)
	default:
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
}

// decode parses the API payload and maps raw byte values to bits.
func (c *Client) decode(body io.Reader) ([]int, error) {
	var payload apiResponse
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !payload.Success || payload.Data == nil {
		if payload.Message == "" {
			payload.Message = "unknown error"
		}
		return nil, fmt.Errorf("API returned failure: %s", payload.Message)
	}

	bits := make([]int, len(payload.Data))
	for i, v := range payload.Data {
		bits[i] = v % 2
	}
	return bits, nil
}

// sleep waits for d or until ctx is done, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// backoffDelay returns min(2^attempt seconds, limit).
func backoffDelay(attempt int, limit time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > limit {
		d = limit
	}
	return d
}

// isTimeout reports whether err is a client or network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
