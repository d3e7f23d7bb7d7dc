package handler

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const probeTimeout = 2 * time.Second

// Check probes one backing service.
type Check func(ctx context.Context) error

// HealthHandler reports liveness plus the state of optional backends.
type HealthHandler struct {
	startedAt time.Time
	checks    map[string]Check
	clock     func() time.Time
}

// NewHealthHandler returns a handler for a process started at startedAt.
// checks may be nil.
func NewHealthHandler(startedAt time.Time, checks map[string]Check) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, checks: checks, clock: time.Now}
}

// HealthCheck answers 200 when every check passes and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	body := map[string]any{
		"status":         "ok",
		"timestamp":      now.Format(time.RFC3339),
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
	}
	code := http.StatusOK

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				results[name] = err.Error()
				body["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body["checks"] = results
	}
	writeJSON(w, code, body)
}
