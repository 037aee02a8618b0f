// Package transport implements the HTTP verbs used to talk to anchoring and
// bricking endpoints, plus the two fan-out patterns the storage layers rely
// on: race-first (anchoring reads and writes) and quorum (brick writes).
//
// Every error returned from this package carries a fault root cause so that
// callers can branch on it:
//   - connection failures -> network
//   - 404 -> missing-data
//   - 429 -> throttler
//   - other 4xx -> business (status code preserved, e.g. 409, 428)
//   - anything else -> unknown
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/internal/ratelimiter"
	"github.com/marmos91/dittodsu/pkg/fault"
)

// maxErrorBody caps how much of an error response body ends up in messages.
const maxErrorBody = 512

// Metrics observes outgoing requests.
type Metrics interface {
	// RecordRequest records one request. status is 0 on transport failure.
	RecordRequest(method string, status int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, int, time.Duration) {}

// Config configures a Client.
type Config struct {
	// Timeout bounds each request (default 30s).
	Timeout time.Duration

	// RequestsPerSecond limits requests per endpoint (0 = unlimited).
	RequestsPerSecond uint

	// Burst is the per-endpoint burst size.
	Burst uint
}

// Response is a successful HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs classified HTTP requests.
//
// Thread safety:
// Safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *ratelimiter.Limiter
	metrics Metrics
}

// NewClient creates a Client.
//
// Parameters:
//   - cfg: Timeouts and rate limits
//   - metrics: Optional request metrics (nil disables collection)
func NewClient(cfg Config, metrics Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimiter.New(cfg.RequestsPerSecond, cfg.Burst),
		metrics: metrics,
	}
}

// Fetch performs a request and returns the response when the status is 2xx.
//
// Non-2xx statuses are returned as classified faults carrying the status code.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	if err := c.limiter.Wait(ctx, endpointKey(rawURL)); err != nil {
		return nil, fault.Classify(fault.Network, err, "rate limiter wait aborted")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fault.Classify(fault.DataInput, err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordRequest(method, 0, time.Since(start))
		logger.Debug("%s %s failed: %v", method, rawURL, err)
		return nil, fault.Classify(fault.Network, err, fmt.Sprintf("%s %s", method, rawURL))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	c.metrics.RecordRequest(method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fault.Classify(fault.Network, err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(truncate(data, maxErrorBody)))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		logger.Debug("%s %s -> %d", method, rawURL, resp.StatusCode)
		return nil, fault.FromStatus(resp.StatusCode, fmt.Sprintf("%s %s: %s", method, rawURL, msg))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// DoGet performs a GET and returns the body.
func (c *Client) DoGet(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DoPut performs a PUT and returns the body.
func (c *Client) DoPut(ctx context.Context, rawURL string, body []byte) ([]byte, error) {
	if body == nil {
		body = []byte{}
	}
	resp, err := c.Fetch(ctx, http.MethodPut, rawURL, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DoPost performs a POST and returns the body.
func (c *Client) DoPost(ctx context.Context, rawURL string, body []byte) ([]byte, error) {
	if body == nil {
		body = []byte{}
	}
	resp, err := c.Fetch(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// endpointKey returns the scheme and host of rawURL, used as rate limiter key.
func endpointKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
