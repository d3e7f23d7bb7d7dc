package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		method string
		target string
		header map[string]string
		want   int
	}{
		{name: "missing", method: http.MethodGet, target: "/api/summary", want: http.StatusUnauthorized},
		{name: "bearer", method: http.MethodGet, target: "/api/summary", header: map[string]string{"Authorization": "Bearer secret"}, want: http.StatusOK},
		{name: "api key header", method: http.MethodGet, target: "/api/summary", header: map[string]string{"X-API-Key": "secret"}, want: http.StatusOK},
		{name: "wrong key", method: http.MethodGet, target: "/api/summary", header: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "open path", method: http.MethodGet, target: "/api/health", want: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, target: "/api/summary", want: http.StatusOK},
		{name: "ws query key", method: http.MethodGet, target: "/ws?api_key=secret", want: http.StatusOK},
		{name: "query key only on ws", method: http.MethodGet, target: "/api/summary?api_key=secret", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("secret")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.JSONEq(t, `{"error":"missing api key"}`, rec.Body.String())
}

func TestAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(ok)

	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/summary", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORSWildcard(t *testing.T) {
	h := CORS([]string{"*"})(ok)
	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1)(ok)
	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1"), "burst is twice the rate")
	assert.Equal(t, http.StatusOK, get("10.0.0.2"), "limits are per client")
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0)(ok)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))
}

func TestLoggingLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	Logging(logger)(ok).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	assert.Empty(t, buf.String(), "2xx logs at debug")

	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	Logging(logger)(failing).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/journal?api_key=secret", nil))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "status=503")
	assert.NotContains(t, buf.String(), "secret")
}

func TestLoggingRecordsBytes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	body := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	Logging(logger)(body).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "status=200")
	assert.Contains(t, buf.String(), "bytes=5")
}
