package handler

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

// SnapshotFeed is a venue's live snapshot set, normally a *hub.Hub.
type SnapshotFeed interface {
	Venue() domain.Venue
	Snapshots() map[string]domain.InstrumentSnapshot
}

// RecordSource is the journal's in-memory ring.
type RecordSource interface {
	Last(n int) []domain.Record
}

// StatusHandler serves live hub and engine state.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	feeds     []SnapshotFeed
	engines   []engine.Engine
	journal   RecordSource
	clock     func() time.Time
}

// NewStatusHandler creates a StatusHandler. journal may be nil.
func NewStatusHandler(mode string, startedAt time.Time, feeds []SnapshotFeed, engines []engine.Engine, journal RecordSource) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		feeds:     feeds,
		engines:   engines,
		journal:   journal,
		clock:     time.Now,
	}
}

// SummaryResponse is the /api/summary body, also pushed over /ws.
type SummaryResponse struct {
	Mode          string           `json:"mode"`
	StartedAt     time.Time        `json:"started_at"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Engines       []engine.Summary `json:"engines"`
}

// SummaryData builds the run summary.
func (h *StatusHandler) SummaryData() SummaryResponse {
	out := SummaryResponse{
		Mode:          h.mode,
		StartedAt:     h.startedAt.UTC(),
		UptimeSeconds: int64(h.clock().Sub(h.startedAt).Seconds()),
		Engines:       make([]engine.Summary, 0, len(h.engines)),
	}
	for _, e := range h.engines {
		out.Engines = append(out.Engines, e.Summary())
	}
	return out
}

// SnapshotData returns summaries of every instrument, optionally filtered by
// venue and coin, sorted by venue then coin.
func (h *StatusHandler) SnapshotData(venue, coin string) []domain.SnapshotSummary {
	now := h.clock()
	out := []domain.SnapshotSummary{}
	for _, f := range h.feeds {
		if venue != "" && string(f.Venue()) != venue {
			continue
		}
		for c, snap := range f.Snapshots() {
			if coin != "" && c != coin {
				continue
			}
			out = append(out, domain.Summarize(snap, now))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Coin < out[j].Coin
	})
	return out
}

// MarketData returns each engine's market views keyed by engine name.
func (h *StatusHandler) MarketData(name string) map[string][]engine.MarketView {
	out := make(map[string][]engine.MarketView, len(h.engines))
	for _, e := range h.engines {
		if name != "" && e.Name() != name {
			continue
		}
		out[e.Name()] = e.MarketViews()
	}
	return out
}

// Summary returns per-engine totals.
// GET /api/summary
func (h *StatusHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.SummaryData())
}

// Snapshots returns instrument summaries. With ?full=1 the complete snapshots
// including books, history and signals are returned instead.
// GET /api/snapshots?venue=kalshi&coin=btc&full=1
func (h *StatusHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	venue, coin := queryLower(r, "venue"), queryLower(r, "coin")
	if queryLower(r, "full") != "1" {
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": h.SnapshotData(venue, coin)})
		return
	}
	full := make(map[string]map[string]domain.InstrumentSnapshot)
	for _, f := range h.feeds {
		v := string(f.Venue())
		if venue != "" && v != venue {
			continue
		}
		snaps := f.Snapshots()
		if coin != "" {
			snap, ok := snaps[coin]
			snaps = map[string]domain.InstrumentSnapshot{}
			if ok {
				snaps[coin] = snap
			}
		}
		full[v] = snaps
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": full})
}

// Markets returns engine market views.
// GET /api/markets?engine=profile
func (h *StatusHandler) Markets(w http.ResponseWriter, r *http.Request) {
	name := queryLower(r, "engine")
	data := h.MarketData(name)
	if name != "" && len(data) == 0 {
		writeError(w, http.StatusNotFound, "unknown engine "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": data})
}

// Journal returns the most recent journal lines, oldest first, optionally
// filtered by level, kind and coin.
// GET /api/journal?limit=100&level=warn&kind=fill&coin=btc
func (h *StatusHandler) Journal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"records": []domain.Record{}})
		return
	}
	limit := parseLimit(r, 100, 1000)
	level := domain.Level(strings.ToUpper(queryLower(r, "level")))
	kind, coin := queryLower(r, "kind"), queryLower(r, "coin")

	all := h.journal.Last(0)
	out := make([]domain.Record, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		rec := all[i]
		if level != "" && rec.Level != level {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		if coin != "" && rec.Coin != coin {
			continue
		}
		out = append(out, rec)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}
