// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package httpfetch is the shared feed-fetch client: per-request timeout,
// exponential backoff with jitter on transient failures, and metrics per
// attempt. The retry shape is grounded on the teacher's Redfish
// doWithRetry helper, generalized from BMC calls to upstream job-board
// GET requests.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"jobfeed/internal/ctxkeys"
	"jobfeed/internal/metrics"
	jfcrypto "jobfeed/pkg/crypto"
)

// Config controls retry/backoff and per-request behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	UserAgent   string
}

// DefaultConfig matches spec.md's fetch retry policy: up to 3 retries
// (4 attempts in all), 60-90s per-request timeout, exponential backoff
// with jitter.
func DefaultConfig(userAgent string) Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Timeout:     75 * time.Second,
		UserAgent:   userAgent,
	}
}

// retryableStatusCodes mirrors spec.md's fetch retry policy.
var retryableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:     true, // 408
	425:                           true, // Too Early
	http.StatusTooManyRequests:   true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Client fetches upstream feed payloads with retry/backoff and metrics.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewClient builds a Client. logger may be nil, in which case
// slog.Default() is used.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// Fetch retrieves a feed URL, retrying transient failures per cfg, and
// returns the response body bytes on success (2xx only).
func (c *Client) Fetch(ctx context.Context, source, rawURL string) ([]byte, error) {
	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := c.cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		body, statusCode, err := c.doOnce(ctx, rawURL)
		dur := time.Since(start)

		metrics.ObserveFetch(source, statusCode, dur)

		if err == nil {
			return body, nil
		}

		lastErr = err
		if !isRetryable(err, statusCode) {
			return nil, err
		}

		if attempt < maxAttempts {
			metrics.IncFetchRetry(source)
			sleep := backoffWithJitter(attempt, baseDelay, maxDelay)

			cid := ctxkeys.GetCorrelationID(ctx)
			c.logger.Debug("feed fetch retry", "source", source, "url", jfcrypto.RedactURL(rawURL), "attempt", attempt,
				"sleep", sleep, "err", err.Error(), "correlation_id", cid)

			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, fmt.Errorf("feed fetch failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, -1, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &HTTPStatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	return body, resp.StatusCode, nil
}

// HTTPStatusError wraps a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, jfcrypto.RedactURL(e.URL))
}

func isRetryable(err error, statusCode int) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatusCodes[statusErr.StatusCode]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// DNS failures and connection resets surface as *net.OpError / *url.Error
	// wrapping net errors; treat any remaining transport-level error as
	// transient, matching the teacher's isRetryable fallback.
	if statusCode == -1 {
		return true
	}
	return false
}

func backoffWithJitter(attempt int, base, max time.Duration) time.Duration {
	exp := attempt - 1
	if exp > 10 {
		exp = 10
	}
	backoff := base * (1 << exp)
	if backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Intn(250)) * time.Millisecond
	return backoff + jitter
}
