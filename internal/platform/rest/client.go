// Package rest is the rate-limited, retrying JSON GET client shared by the
// venue adapters.
package rest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetries   = 3
	defaultRetryWait = 500 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// RatePerSec and Burst size the token bucket. Zero disables limiting.
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
	// Header is added to every request.
	Header http.Header
	// Sign, when set, adds per-request auth headers.
	Sign func(method, path string) (http.Header, error)
}

// Client issues GET requests against one API base URL.
type Client struct {
	base       string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	header     http.Header
	sign       func(method, path string) (http.Header, error)
	logger     *slog.Logger
}

// New creates a Client.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &Client{
		base:       opts.BaseURL,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		maxRetries: opts.MaxRetries,
		retryWait:  opts.RetryWait,
		header:     opts.Header,
		sign:       opts.Sign,
		logger:     logger.With(slog.String("component", "rest"), slog.String("base", opts.BaseURL)),
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base
}

// Get fetches path with query and returns the body of a 2xx response.
// Transport errors, 429 and 5xx are retried with exponential backoff; other
// statuses map to domain sentinels via CheckStatus.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryWait << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, status, err := c.do(ctx, path, target)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = CheckStatus(status, body)
			c.logger.Warn("request throttled or failed, retrying",
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err := CheckStatus(status, body); err != nil {
			return nil, err
		}
		return body, nil
	}
	return nil, fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, path, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.sign != nil {
		signPath := path
		if u, err := url.Parse(target); err == nil {
			signPath = u.Path
		}
		h, err := c.sign(http.MethodGet, signPath)
		if err != nil {
			return nil, 0, fmt.Errorf("sign request: %w", err)
		}
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// CheckStatus maps a non-2xx response to an error wrapping the matching
// domain sentinel.
func CheckStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
