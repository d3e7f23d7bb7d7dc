package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// AuditReader lists persisted audit rows.
type AuditReader interface {
	List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log across runs.
type AuditHandler struct {
	audit  AuditReader
	runID  string
	logger *slog.Logger
}

// NewAuditHandler returns a handler whose ?run=current resolves to runID.
func NewAuditHandler(audit AuditReader, runID string, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		runID:  runID,
		logger: logger.With(slog.String("handler", "audit")),
	}
}

type auditEntryResponse struct {
	ID     int64          `json:"id"`
	RunID  string         `json:"run_id"`
	Level  domain.Level   `json:"level"`
	Event  string         `json:"event"`
	Detail map[string]any `json:"detail,omitempty"`
	At     string         `json:"at"`
}

// ListAudit returns audit rows, newest first.
// GET /api/audit?run=current&event=fill&limit=100
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC 3339")
		return
	}
	f := domain.AuditFilter{
		RunID:    r.URL.Query().Get("run"),
		Event:    queryLower(r, "event"),
		ListOpts: opts,
	}
	if f.RunID == "current" {
		f.RunID = h.runID
	}

	entries, err := h.audit.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:     e.ID,
			RunID:  e.RunID,
			Level:  e.Level,
			Event:  e.Event,
			Detail: e.Detail,
			At:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
