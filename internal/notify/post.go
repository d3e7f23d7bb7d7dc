package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	sendTimeout   = 10 * time.Second
	maxRetryAfter = 5 * time.Second
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: sendTimeout}
}

// statusError is a non-2xx webhook response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// postJSON posts payload to url. A 429 is retried once after Retry-After
// when the wait is short.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	for attempt := 0; ; attempt++ {
		wait, err := post(ctx, client, url, body)
		if err == nil || wait <= 0 || attempt > 0 {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(snippet))}
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0, serr
	}
	return retryAfter(resp.Header.Get("Retry-After")), serr
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxRetryAfter {
		return 0
	}
	return max(d, 100*time.Millisecond)
}
