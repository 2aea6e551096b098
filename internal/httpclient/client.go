// Package httpclient provides the outbound HTTP client used for webhook
// delivery: bounded retries with exponential backoff, Retry-After handling,
// a circuit breaker that stops hammering a dead endpoint, and transparent
// decompression of response bodies.
package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/vertd/internal/version"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

// Defaults.
const (
	DefaultTimeout            = 15 * time.Second
	DefaultRetryAttempts      = 2
	DefaultRetryDelay         = 500 * time.Millisecond
	DefaultRetryMaxDelay      = 10 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = time.Minute
	DefaultCircuitHalfOpenMax = 1

	acceptEncoding = "gzip, deflate, br"
)

// StatusError is returned for responses that are neither successful nor
// worth retrying.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config holds the client configuration.
type Config struct {
	Timeout            time.Duration
	RetryAttempts      int
	RetryDelay         time.Duration
	RetryMaxDelay      time.Duration
	BackoffMultiplier  float64
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int
	UserAgent          string
	Logger             *slog.Logger

	// BaseClient overrides the underlying client, mainly for tests.
	BaseClient *http.Client
}

// DefaultConfig returns the configuration used for webhooks.
func DefaultConfig() Config {
	return Config{
		Timeout:            DefaultTimeout,
		RetryAttempts:      DefaultRetryAttempts,
		RetryDelay:         DefaultRetryDelay,
		RetryMaxDelay:      DefaultRetryMaxDelay,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		CircuitThreshold:   DefaultCircuitThreshold,
		CircuitTimeout:     DefaultCircuitTimeout,
		CircuitHalfOpenMax: DefaultCircuitHalfOpenMax,
		UserAgent:          version.UserAgent(),
		Logger:             slog.Default(),
	}
}

// Client sends requests with retries and circuit breaking.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}

	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// Post sends body to rawURL. The body is replayed on every attempt.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes req, retrying transport failures and 429/502/503/504
// responses. Requests with a body are only retried when req.GetBody is set,
// which http.NewRequest does for in-memory bodies. Any other non-2xx
// response is returned as a *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	target := RedactURL(req.URL)
	attempts := c.config.RetryAttempts
	if req.Body != nil && req.GetBody == nil {
		attempts = 0
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", target),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewinding request body: %w", err)
				}
				req.Body = body
			}
		}

		if !c.breaker.Allow() {
			c.logger.Warn("circuit breaker open, skipping request",
				slog.String("url", target),
				slog.String("state", c.breaker.State().String()),
			)
			return nil, ErrCircuitOpen
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		elapsed := time.Since(start)

		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", target),
				slog.String("method", req.Method),
				slog.Duration("duration", elapsed),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				delay = min(wait, c.config.RetryMaxDelay)
			}
			c.logger.Warn("retryable response",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		resp.Body = c.wrapDecompression(resp)

		c.logger.Debug("request completed",
			slog.String("url", target),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", elapsed),
		)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("invalid gzip body, returning raw body", slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{reader: r, closer: resp.Body}
	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		return resp.Body
	}
}

type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if rc, ok := d.reader.(io.Closer); ok {
		rc.Close()
	}
	return d.closer.Close()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryAfter parses a Retry-After header given in seconds, as webhook
// endpoints send it.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// RedactURL renders u for logging. Webhook URLs carry their secret in the
// path, so everything after the first path segment past "webhooks" is
// masked, as are credential-like query parameters and userinfo.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	r := *u
	r.User = nil

	segments := strings.Split(r.Path, "/")
	for i, seg := range segments {
		if seg == "webhooks" && i+2 < len(segments) {
			for j := i + 2; j < len(segments); j++ {
				segments[j] = "***"
			}
			break
		}
	}
	r.Path = strings.Join(segments, "/")
	r.RawPath = ""

	q := r.Query()
	for _, key := range []string{"token", "key", "api_key", "apikey", "secret", "password", "auth"} {
		if q.Has(key) {
			q.Set(key, "***")
		}
	}
	r.RawQuery = q.Encode()
	return r.String()
}
