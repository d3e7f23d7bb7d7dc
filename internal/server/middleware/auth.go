package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// tokenSources are tried in order. The query parameter only counts on /ws
// since browsers cannot set headers on a websocket upgrade.
var tokenSources = []func(*http.Request) string{
	bearerToken,
	func(r *http.Request) string { return r.Header.Get("X-API-Key") },
	func(r *http.Request) string {
		if r.URL.Path != "/ws" {
			return ""
		}
		return r.URL.Query().Get("api_key")
	},
}

// Auth requires apiKey as a Bearer token or X-API-Key header. An empty key
// disables the check. Paths in open and CORS preflights are always served.
func Auth(apiKey string, open ...string) func(http.Handler) http.Handler {
	if apiKey == "" {
		return passthrough
	}
	want := sha256.Sum256([]byte(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || slices.Contains(open, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			tok := requestToken(r)
			if tok == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="updownbot"`)
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			got := sha256.Sum256([]byte(tok))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) string {
	for _, src := range tokenSources {
		if tok := strings.TrimSpace(src(r)); tok != "" {
			return tok
		}
	}
	return ""
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return tok
}
