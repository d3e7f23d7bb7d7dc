package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists simulated positions as they open and close.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListRecent(ctx context.Context, engine string, opts ListOpts) ([]Position, error)
}

// AuditEntry is one row of the audit log. Event is the journal kind, or
// "log" for records without one.
type AuditEntry struct {
	ID        int64
	RunID     string
	Level     Level
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditFilter selects audit rows. Empty fields match everything.
type AuditFilter struct {
	RunID string
	Event string
	ListOpts
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// BlobWriter stores run artifacts in object storage. PutMultipart streams
// bodies too large for one request.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error
}
