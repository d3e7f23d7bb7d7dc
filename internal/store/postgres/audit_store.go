package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// AuditStore writes the audit_log table. Entries without a run id are
// tagged with the store's own.
type AuditStore struct {
	pool  *pgxpool.Pool
	runID string
}

// NewAuditStore returns a store that tags rows with runID.
func NewAuditStore(pool *pgxpool.Pool, runID string) *AuditStore {
	return &AuditStore{pool: pool, runID: runID}
}

// Append inserts one entry; CreatedAt defaults to the database clock.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.Level == "" {
		e.Level = domain.LevelInfo
	}

	const query = `
		INSERT INTO audit_log (run_id, level, event, detail, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`
	if _, err := s.pool.Exec(ctx, query, e.RunID, string(e.Level), e.Event, detail, nullTime(e.CreatedAt)); err != nil {
		return fmt.Errorf("postgres: append audit %s: %w", e.Event, err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query, args := listAuditQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			level  string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.RunID, &level, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		e.Level = domain.Level(level)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return entries, nil
}

func listAuditQuery(f domain.AuditFilter) (string, []any) {
	q := newListQuery(`SELECT id, run_id, level, event, detail, created_at FROM audit_log`)
	if f.RunID != "" {
		q.and("run_id", "=", f.RunID)
	}
	if f.Event != "" {
		q.and("event", "=", f.Event)
	}
	return q.window("created_at", f.ListOpts).page("created_at", f.ListOpts)
}

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditRecorder copies selected journal records into an AuditStore. A
// record is kept when its level or its kind is selected.
type AuditRecorder struct {
	store  domain.AuditStore
	levels map[domain.Level]bool
	kinds  map[string]bool
}

// NewAuditRecorder builds a recorder. Names match case-insensitively.
func NewAuditRecorder(store domain.AuditStore, levels, kinds []string) *AuditRecorder {
	r := &AuditRecorder{
		store:  store,
		levels: make(map[domain.Level]bool, len(levels)),
		kinds:  make(map[string]bool, len(kinds)),
	}
	for _, l := range levels {
		r.levels[domain.Level(strings.ToUpper(l))] = true
	}
	for _, k := range kinds {
		r.kinds[strings.ToLower(k)] = true
	}
	return r
}

// Name implements journal.Recorder.
func (r *AuditRecorder) Name() string { return "postgres-audit" }

// Record implements journal.Recorder.
func (r *AuditRecorder) Record(ctx context.Context, rec domain.Record) error {
	if !r.levels[rec.Level] && !r.kinds[rec.Kind] {
		return nil
	}
	e := domain.AuditEntry{
		Level:     rec.Level,
		Event:     rec.Kind,
		CreatedAt: rec.TS,
		Detail: map[string]any{
			"component": rec.Component,
			"message":   rec.Message,
		},
	}
	if e.Event == "" {
		e.Event = "log"
	}
	if rec.Coin != "" {
		e.Detail["coin"] = rec.Coin
	}
	if len(rec.Fields) > 0 {
		e.Detail["fields"] = rec.Fields
	}
	return r.store.Append(ctx, e)
}
