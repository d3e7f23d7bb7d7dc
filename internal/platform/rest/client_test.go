package rest_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/rest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := rest.New(rest.Options{BaseURL: srv.URL, RetryWait: time.Millisecond}, testLogger())
	body, err := c.Get(context.Background(), "/x", url.Values{"symbol": {"BTC"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_StatusSentinels(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := rest.New(rest.Options{BaseURL: srv.URL, MaxRetries: 1, RetryWait: time.Millisecond}, testLogger())
			_, err := c.Get(context.Background(), "/x", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGet_SignsPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trade-api/v2/markets", r.Header.Get("X-Path"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := rest.New(rest.Options{
		BaseURL: srv.URL + "/trade-api/v2",
		Sign: func(method, path string) (http.Header, error) {
			h := http.Header{}
			h.Set("X-Path", path)
			return h, nil
		},
	}, testLogger())
	_, err := c.Get(context.Background(), "/markets", url.Values{"limit": {"5"}})
	require.NoError(t, err)
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, rest.CheckStatus(204, nil))
	err := rest.CheckStatus(418, []byte("teapot"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 418")
}
