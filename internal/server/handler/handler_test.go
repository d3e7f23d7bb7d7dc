package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

type fakeFeed struct {
	venue domain.Venue
	snaps map[string]domain.InstrumentSnapshot
}

func (f fakeFeed) Venue() domain.Venue {
	return f.venue
}

func (f fakeFeed) Snapshots() map[string]domain.InstrumentSnapshot {
	return f.snaps
}

type fakeEngine struct {
	views   []engine.MarketView
	summary engine.Summary
}

func (e fakeEngine) Name() string {
	return e.summary.Engine
}

func (e fakeEngine) Run(context.Context) error {
	return nil
}

func (e fakeEngine) MarketViews() []engine.MarketView {
	return e.views
}

func (e fakeEngine) Summary() engine.Summary {
	return e.summary
}

func (e fakeEngine) Close() error {
	return nil
}

type fakeJournal []domain.Record

func (j fakeJournal) Last(n int) []domain.Record {
	if n <= 0 || n >= len(j) {
		return j
	}
	return j[len(j)-n:]
}

type fakePositions struct {
	positions []domain.Position
	err       error
	gotEngine string
	gotOpts   domain.ListOpts
}

func (f *fakePositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	if f.err != nil {
		return domain.Position{}, f.err
	}
	for _, p := range f.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (f *fakePositions) ListRecent(_ context.Context, engine string, opts domain.ListOpts) ([]domain.Position, error) {
	f.gotEngine, f.gotOpts = engine, opts
	return f.positions, f.err
}

var t0 = time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

func snap(venue domain.Venue, coin string) domain.InstrumentSnapshot {
	return domain.InstrumentSnapshot{
		Venue:     venue,
		Coin:      coin,
		Market:    domain.Market{Venue: venue, ID: coin + "-1", CloseTime: t0.Add(15 * time.Minute)},
		SpotPrice: 100,
		Freshness: domain.FreshnessHealthy,
	}
}

func newStatus(journal RecordSource) *StatusHandler {
	feeds := []SnapshotFeed{
		fakeFeed{venue: domain.VenuePolymarket, snaps: map[string]domain.InstrumentSnapshot{
			"eth": snap(domain.VenuePolymarket, "eth"),
			"btc": snap(domain.VenuePolymarket, "btc"),
		}},
		fakeFeed{venue: domain.VenueKalshi, snaps: map[string]domain.InstrumentSnapshot{
			"btc": snap(domain.VenueKalshi, "btc"),
		}},
	}
	engines := []engine.Engine{
		fakeEngine{
			summary: engine.Summary{Engine: "profile", Trades: 3, PnL: 4.5},
			views:   []engine.MarketView{{Coin: "btc", State: "open"}},
		},
	}
	h := NewStatusHandler("profile", t0, feeds, engines, journal)
	h.clock = func() time.Time { return t0.Add(90 * time.Second) }
	return h
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(t0, nil)
	h.clock = func() time.Time { return t0.Add(time.Minute) }

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 60, body["uptime_seconds"])
	assert.NotContains(t, body, "checks")
}

func TestHealthCheck_Probes(t *testing.T) {
	h := NewHealthHandler(t0, map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("redis: ping: connection refused") },
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Contains(t, body.Checks["redis"], "connection refused")
}

func TestStatus_Summary(t *testing.T) {
	rec := httptest.NewRecorder()
	newStatus(nil).Summary(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))

	var body SummaryResponse
	decode(t, rec, &body)
	assert.Equal(t, "profile", body.Mode)
	assert.EqualValues(t, 90, body.UptimeSeconds)
	require.Len(t, body.Engines, 1)
	assert.Equal(t, 3, body.Engines[0].Trades)
	assert.InDelta(t, 4.5, body.Engines[0].PnL, 1e-9)
}

func TestStatus_Snapshots(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "all sorted", query: "", want: []string{"kalshi/btc", "polymarket/btc", "polymarket/eth"}},
		{name: "by venue", query: "?venue=Polymarket", want: []string{"polymarket/btc", "polymarket/eth"}},
		{name: "by coin", query: "?coin=btc", want: []string{"kalshi/btc", "polymarket/btc"}},
		{name: "no match", query: "?coin=doge", want: []string{}},
	}
	h := newStatus(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots"+tt.query, nil))

			var body struct {
				Snapshots []domain.SnapshotSummary `json:"snapshots"`
			}
			decode(t, rec, &body)
			got := []string{}
			for _, s := range body.Snapshots {
				got = append(got, string(s.Venue)+"/"+s.Coin)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_SnapshotsFull(t *testing.T) {
	rec := httptest.NewRecorder()
	newStatus(nil).Snapshots(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots?full=1&venue=kalshi", nil))

	var body struct {
		Snapshots map[string]map[string]json.RawMessage `json:"snapshots"`
	}
	decode(t, rec, &body)
	require.Contains(t, body.Snapshots, "kalshi")
	assert.NotContains(t, body.Snapshots, "polymarket")
	assert.Contains(t, body.Snapshots["kalshi"], "btc")
}

func TestStatus_Markets(t *testing.T) {
	h := newStatus(nil)

	rec := httptest.NewRecorder()
	h.Markets(rec, httptest.NewRequest(http.MethodGet, "/api/markets?engine=profile", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Markets map[string][]engine.MarketView `json:"markets"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Markets["profile"], 1)
	assert.Equal(t, "open", body.Markets["profile"][0].State)

	rec = httptest.NewRecorder()
	h.Markets(rec, httptest.NewRequest(http.MethodGet, "/api/markets?engine=arbitrage", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus_Journal(t *testing.T) {
	j := fakeJournal{
		{TS: t0, Level: domain.LevelInfo, Kind: domain.KindFeed, Coin: "btc", Message: "1"},
		{TS: t0, Level: domain.LevelWarn, Kind: domain.KindSkip, Coin: "btc", Message: "2"},
		{TS: t0, Level: domain.LevelInfo, Kind: domain.KindFill, Coin: "eth", Message: "3"},
		{TS: t0, Level: domain.LevelWarn, Kind: domain.KindSkip, Coin: "eth", Message: "4"},
		{TS: t0, Level: domain.LevelInfo, Kind: domain.KindFill, Coin: "btc", Message: "5"},
	}
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "all oldest first", query: "", want: []string{"1", "2", "3", "4", "5"}},
		{name: "limit keeps newest", query: "?limit=2", want: []string{"4", "5"}},
		{name: "level", query: "?level=warn", want: []string{"2", "4"}},
		{name: "kind and coin", query: "?kind=fill&coin=btc", want: []string{"5"}},
		{name: "bad limit falls back", query: "?limit=abc", want: []string{"1", "2", "3", "4", "5"}},
	}
	h := newStatus(j)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Journal(rec, httptest.NewRequest(http.MethodGet, "/api/journal"+tt.query, nil))

			var body struct {
				Records []domain.Record `json:"records"`
			}
			decode(t, rec, &body)
			got := []string{}
			for _, r := range body.Records {
				got = append(got, r.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_JournalDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	newStatus(nil).Journal(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[]}`, rec.Body.String())
}

func TestPositions_List(t *testing.T) {
	store := &fakePositions{positions: []domain.Position{{ID: "p1", Engine: "profile"}}}
	h := NewPositionHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?engine=Profile&limit=5&since=2025-10-09T00:00:00Z", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "profile", store.gotEngine)
	assert.Equal(t, 5, store.gotOpts.Limit)
	require.NotNil(t, store.gotOpts.Since)
	assert.True(t, store.gotOpts.Since.Equal(time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC)))

	var body listPositionsResponse
	decode(t, rec, &body)
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "p1", body.Positions[0].ID)
}

func TestPositions_ListErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	NewPositionHandler(&fakePositions{}, logger).ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	NewPositionHandler(&fakePositions{err: errors.New("db down")}, logger).ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")

	rec = httptest.NewRecorder()
	NewPositionHandler(&fakePositions{}, logger).ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}

func TestPositions_Get(t *testing.T) {
	store := &fakePositions{positions: []domain.Position{{ID: "p1", Engine: "arbitrage"}}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions/{id}", NewPositionHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil))).GetPosition)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/p1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var pos domain.Position
	decode(t, rec, &pos)
	assert.Equal(t, "arbitrage", pos.Engine)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeAudit struct {
	entries []domain.AuditEntry
	err     error
	got     domain.AuditFilter
}

func (f *fakeAudit) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	f.got = filter
	return f.entries, f.err
}

func TestAudit_List(t *testing.T) {
	store := &fakeAudit{entries: []domain.AuditEntry{{
		ID: 7, RunID: "run-1", Level: domain.LevelWarn, Event: domain.KindMismatch,
		Detail: map[string]any{"coin": "btc"}, CreatedAt: t0,
	}}}
	h := NewAuditHandler(store, "run-1", slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?run=current&event=Mismatch&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", store.got.RunID)
	assert.Equal(t, "mismatch", store.got.Event)
	assert.Equal(t, 10, store.got.Limit)
	assert.JSONEq(t, `{"entries":[{"id":7,"run_id":"run-1","level":"WARN","event":"mismatch",
		"detail":{"coin":"btc"},"at":"2025-10-09T12:00:00Z"}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?run=other", nil))
	assert.Equal(t, "other", store.got.RunID)

	rec = httptest.NewRecorder()
	NewAuditHandler(&fakeAudit{err: errors.New("db down")}, "", slog.New(slog.NewTextHandler(io.Discard, nil))).
		ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewAuditHandler(&fakeAudit{}, "", slog.New(slog.NewTextHandler(io.Discard, nil))).
		ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
}
