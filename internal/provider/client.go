// Package provider holds the rate-limited HTTP clients for the regulatory
// filings registry (EDGAR) and the market data vendor (FMP).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
	maxBodyBytes       = 32 << 20
)

// Client performs rate-limited GET requests with retry on transient failures
type Client struct {
	name        string
	httpClient  *http.Client
	rateLimiter chan struct{}
	stop        chan struct{}
	userAgent   string
	maxAttempts int
	backoff     time.Duration
	health      *HealthMonitor
	metrics     *metrics.Recorder
	log         logger.Logger
	secrets     []string
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithUserAgent sets the User-Agent header sent on every request
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithBackoff sets the base retry delay; attempt n waits base * 2^(n-1)
func WithBackoff(base time.Duration) ClientOption {
	return func(c *Client) { c.backoff = base }
}

// WithMaxAttempts sets the total number of attempts per request
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request outcomes
func WithMetrics(m *metrics.Recorder) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithHealthMonitor records successes and failures
func WithHealthMonitor(h *HealthMonitor) ClientOption {
	return func(c *Client) { c.health = h }
}

// WithSecretParams masks the named query parameters wherever a URL is logged or reported
func WithSecretParams(names ...string) ClientOption {
	return func(c *Client) { c.secrets = append(c.secrets, names...) }
}

// WithLogger sets the client logger
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client allowing requestsPerSecond requests with a burst of the same size
func NewClient(name string, requestsPerSecond int, opts ...ClientOption) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	rateLimiter := make(chan struct{}, requestsPerSecond)
	for i := 0; i < requestsPerSecond; i++ {
		rateLimiter <- struct{}{}
	}

	c := &Client{
		name: name,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		rateLimiter: rateLimiter,
		stop:        make(chan struct{}),
		userAgent:   "dilution-monitor/1.0",
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(requestsPerSecond))
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				select {
				case c.rateLimiter <- struct{}{}:
				default:
				}
			}
		}
	}()

	return c
}

// StatusError is a non-2xx response
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Get fetches url and returns the body, retrying transport errors, 429 and 5xx
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, status, err := c.do(ctx, url)
		if err == nil {
			c.record("ok")
			if c.health != nil {
				c.health.RecordSuccess(c.display(url))
			}
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if status != 0 && !retryable(status) {
			break
		}
		c.record("retry")
		if attempt < c.maxAttempts {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			c.log.Warn("Provider request failed, retrying",
				"provider", c.name, "url", c.display(url), "attempt", attempt, "backoff", wait.String(), "error", c.mask(err.Error()))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = c.maxAttempts
			}
		}
	}

	c.record("error")
	if c.health != nil {
		c.health.RecordFailure(c.display(url), c.mask(lastErr.Error()))
	}
	return nil, apperrors.ProviderError(fmt.Sprintf("%s request failed", c.name), maskedError{msg: c.mask(lastErr.Error()), err: lastErr}).
		WithOperation("GET " + c.display(url))
}

// GetJSON fetches url and decodes the JSON body into dest
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return apperrors.ProviderError(fmt.Sprintf("%s returned malformed JSON", c.name), err).
			WithOperation("GET " + c.display(url))
	}
	return nil
}

func (c *Client) do(ctx context.Context, url string) ([]byte, int, error) {
	select {
	case <-c.rateLimiter:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, resp.StatusCode, &StatusError{URL: c.display(url), StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, resp.StatusCode, nil
}

// display returns rawURL with secret query values replaced
func (c *Client) display(rawURL string) string {
	if len(c.secrets) == 0 {
		return rawURL
	}
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for _, name := range c.secrets {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// mask removes secret query values from transport error messages, which embed the URL
func (c *Client) mask(msg string) string {
	for _, name := range c.secrets {
		key := name + "="
		from := 0
		for {
			i := strings.Index(msg[from:], key)
			if i < 0 {
				break
			}
			start := from + i + len(key)
			end := start
			for end < len(msg) && !strings.ContainsRune("&\" :", rune(msg[end])) {
				end++
			}
			msg = msg[:start] + "REDACTED" + msg[end:]
			from = start + len("REDACTED")
		}
	}
	return msg
}

// maskedError keeps the original error chain while hiding secrets in its message
type maskedError struct {
	msg string
	err error
}

func (e maskedError) Error() string { return e.msg }
func (e maskedError) Unwrap() error { return e.err }

func (c *Client) record(status string) {
	c.metrics.ProviderRequest(c.name, status)
}

// Health returns the client's health monitor, if any
func (c *Client) Health() *HealthMonitor {
	return c.health
}

// Close stops the limiter refill and releases idle connections
func (c *Client) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.httpClient.CloseIdleConnections()
}
