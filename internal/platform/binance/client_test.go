package binance_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/binance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_OpenPrice(t *testing.T) {
	start := time.Unix(1760000400, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("interval"))
		assert.Equal(t, "1", q.Get("limit"))
		if q.Get("startTime") != fmt.Sprint(start.UnixMilli()) {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		fmt.Fprintf(w, `[[%d,"97001.10","97050.00","96990.00","97020.55","12.5",%d,"0",10,"0","0","0"]]`,
			start.UnixMilli(), start.Add(time.Minute).UnixMilli()-1)
	}))
	defer srv.Close()

	c := binance.NewClient(srv.URL, testLogger())

	open, err := c.OpenPrice(context.Background(), "btcusdt", start.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 97001.10, open)

	ks, err := c.Klines(context.Background(), "BTCUSDT", "1m", start, 1)
	require.NoError(t, err)
	require.Len(t, ks, 1)
	assert.Equal(t, 97020.55, ks[0].Close)
	assert.Equal(t, start.UTC(), ks[0].OpenTime)

	_, err = c.OpenPrice(context.Background(), "BTCUSDT", start.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_BadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[[1,"x"]]`))
	}))
	defer srv.Close()

	_, err := binance.NewClient(srv.URL, testLogger()).Klines(context.Background(), "BTCUSDT", "1m", time.Now(), 1)
	assert.Error(t, err)
}
