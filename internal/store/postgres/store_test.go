package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://a@b/c", Host: "ignored"},
			want: "postgres://a@b/c",
		},
		{
			name: "fields with defaults",
			cfg:  ClientConfig{Host: "db", Database: "updown", User: "bot", Password: "pw"},
			want: "postgres://bot:pw@db:5432/updown?sslmode=disable",
		},
		{
			name: "password is escaped",
			cfg:  ClientConfig{Host: "db", Port: 6432, Database: "updown", User: "bot", Password: "p@ss/word", SSLMode: "require"},
			want: "postgres://bot:p%40ss%2Fword@db:6432/updown?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_sim_positions.sql", "002_audit_log.sql", "003_audit_run.sql"}, names)

	assert.Equal(t, []string{"003_audit_run.sql"}, pending(names, []string{"002_audit_log.sql", "001_sim_positions.sql"}))
	assert.Empty(t, pending(names, names))
}

func TestListPositionsQuery(t *testing.T) {
	since := time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC)
	query, args := listPositionsQuery("profile", domain.ListOpts{Since: &since, Limit: 20})

	assert.Contains(t, query, "engine = $1")
	assert.Contains(t, query, "opened_at >= $2")
	assert.Contains(t, query, "ORDER BY opened_at DESC LIMIT $3")
	assert.NotContains(t, query, "OFFSET")
	assert.Equal(t, []any{"profile", since, 20}, args)

	query, args = listPositionsQuery("", domain.ListOpts{})
	assert.NotContains(t, query, "engine =")
	assert.Empty(t, args)
}

func TestLegsEncoding(t *testing.T) {
	b, err := encodeLegs(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	legs := []domain.Leg{{
		LegIntent: domain.LegIntent{Venue: domain.VenueKalshi, MarketID: "KXBTC15M-1", Side: domain.SideDown},
		Shares:    54,
		AvgPrice:  0.5,
		Cost:      27,
	}}
	b, err = encodeLegs(legs)
	require.NoError(t, err)
	got, err := decodeLegs(b)
	require.NoError(t, err)
	assert.Equal(t, legs, got)

	_, err = decodeLegs([]byte("{"))
	assert.Error(t, err)
	assert.Nil(t, nullTime(time.Time{}))
}

type memAudit struct{ entries []domain.AuditEntry }

func (m *memAudit) Append(_ context.Context, e domain.AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func TestAuditRecorderFilters(t *testing.T) {
	store := &memAudit{}
	r := NewAuditRecorder(store, []string{"warn", "ERROR"}, []string{domain.KindFill})
	ctx := context.Background()
	ts := time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Record(ctx, domain.Record{Level: domain.LevelInfo, Kind: domain.KindSkip, Message: "skip"}))
	require.NoError(t, r.Record(ctx, domain.Record{TS: ts, Level: domain.LevelInfo, Kind: domain.KindFill, Coin: "btc", Message: "filled",
		Fields: map[string]any{"shares": 54.0}}))
	require.NoError(t, r.Record(ctx, domain.Record{Level: domain.LevelWarn, Message: "stale"}))

	require.Len(t, store.entries, 2)
	fill, stale := store.entries[0], store.entries[1]
	assert.Equal(t, domain.KindFill, fill.Event)
	assert.Equal(t, ts, fill.CreatedAt)
	assert.Equal(t, "btc", fill.Detail["coin"])
	assert.Equal(t, map[string]any{"shares": 54.0}, fill.Detail["fields"])

	assert.Equal(t, "log", stale.Event)
	assert.Equal(t, domain.LevelWarn, stale.Level)
	assert.NotContains(t, stale.Detail, "coin")
}

func TestListAuditQuery(t *testing.T) {
	since := time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC)
	query, args := listAuditQuery(domain.AuditFilter{
		RunID:    "run-1",
		Event:    domain.KindFill,
		ListOpts: domain.ListOpts{Since: &since, Limit: 50, Offset: 100},
	})
	assert.Equal(t, "SELECT id, run_id, level, event, detail, created_at FROM audit_log"+
		" WHERE run_id = $1 AND event = $2 AND created_at >= $3"+
		" ORDER BY created_at DESC LIMIT $4 OFFSET $5", query)
	assert.Equal(t, []any{"run-1", domain.KindFill, since, 50, 100}, args)

	query, args = listAuditQuery(domain.AuditFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)
}
