package polymarket_test

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
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHistorical struct {
	price float64
	at    time.Time
}

func (f *fakeHistorical) OpenPrice(_ context.Context, _ string, at time.Time) (float64, error) {
	f.at = at
	return f.price, nil
}

const windowStart = 1760000400 // 2025-10-09T09:00:00Z, a 15m boundary

func marketJSON(id string, start int64, closed bool, prices string) string {
	return fmt.Sprintf(`{"id":%q,"question":"Bitcoin Up or Down","conditionId":"0xcond%s",
		"slug":"btc-updown-15m-%d","closed":%t,"active":true,
		"outcomes":"[\"Up\",\"Down\"]","outcomePrices":%q,
		"clobTokenIds":"[\"tok-up-%s\",\"tok-down-%s\"]",
		"eventStartTime":%q,"endDate":%q}`,
		id, id, start, closed, prices, id, id,
		time.Unix(start, 0).UTC().Format(time.RFC3339),
		time.Unix(start+900, 0).UTC().Format(time.RFC3339))
}

func newGammaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		if slug != fmt.Sprintf("btc-updown-15m-%d", windowStart) {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		fmt.Fprintf(w, `[{"id":"ev1","slug":%q,"eventMetadata":{"priceToBeat":97123.45},"markets":[%s]}]`,
			slug, marketJSON("m1", windowStart, false, `["0.5","0.5"]`))
	})
	mux.HandleFunc("/markets", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/markets/m0", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(marketJSON("m0", windowStart-900, true, `["0","1"]`)))
	})
	mux.HandleFunc("/markets/m1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(marketJSON("m1", windowStart, false, `["0.5","0.5"]`)))
	})
	return httptest.NewServer(mux)
}

func TestWindowSlug(t *testing.T) {
	at := time.Unix(windowStart+123, 0)
	assert.Equal(t, fmt.Sprintf("btc-updown-15m-%d", windowStart), polymarket.WindowSlug("BTC", 15*time.Minute, at))
	assert.Equal(t, "eth-updown-1h-1760000400", polymarket.WindowSlug("eth", time.Hour, time.Unix(1760000400+1800, 0)))
}

func TestSlugFromURL(t *testing.T) {
	assert.Equal(t, "btc-updown-15m-1", polymarket.SlugFromURL("https://polymarket.com/event/btc-updown-15m-1?tid=3"))
	assert.Equal(t, "btc-updown-15m-1", polymarket.SlugFromURL("btc-updown-15m-1"))
}

func TestVenue_SelectMarketByWindowSlug(t *testing.T) {
	srv := newGammaServer(t)
	defer srv.Close()

	now := time.Unix(windowStart+60, 0)
	v := polymarket.NewVenue(polymarket.NewGammaClient(srv.URL, testLogger()), nil, nil, nil,
		polymarket.VenueOptions{
			Coins: map[string]polymarket.CoinSelector{"btc": {Symbol: "btc"}},
			Clock: func() time.Time { return now },
		}, testLogger())

	m, err := v.SelectMarket(context.Background(), "btc", now)
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, domain.VenuePolymarket, m.Venue)
	assert.Equal(t, "tok-up-m1", m.Up.ID)
	assert.Equal(t, "tok-down-m1", m.Down.ID)
	assert.Equal(t, 97123.45, m.PriceToBeat)
	assert.Equal(t, time.Unix(windowStart+900, 0).UTC(), m.CloseTime)
	assert.Equal(t, time.Unix(windowStart, 0).UTC(), m.OpenTime)

	fields := v.Fields(m)
	require.NotNil(t, fields.Polymarket)
	assert.Equal(t, "0xcondm1", fields.Polymarket.ConditionID)

	ref, recheck, err := v.LookupReference(context.Background(), m, domain.RefPriceToBeat)
	require.NoError(t, err)
	assert.Equal(t, 97123.45, ref)
	assert.False(t, recheck)
}

func TestVenue_SelectMarketExplicitIDsSkipsClosed(t *testing.T) {
	srv := newGammaServer(t)
	defer srv.Close()

	now := time.Unix(windowStart+60, 0)
	v := polymarket.NewVenue(polymarket.NewGammaClient(srv.URL, testLogger()), nil, nil, nil,
		polymarket.VenueOptions{Coins: map[string]polymarket.CoinSelector{"btc": {MarketIDs: []string{"m0", "m1"}}}},
		testLogger())

	m, err := v.SelectMarket(context.Background(), "btc", now)
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
}

func TestVenue_SelectMarketNone(t *testing.T) {
	srv := newGammaServer(t)
	defer srv.Close()

	v := polymarket.NewVenue(polymarket.NewGammaClient(srv.URL, testLogger()), nil, nil, nil,
		polymarket.VenueOptions{Coins: map[string]polymarket.CoinSelector{"eth": {Symbol: "eth"}}}, testLogger())

	_, err := v.SelectMarket(context.Background(), "eth", time.Unix(windowStart, 0))
	assert.ErrorIs(t, err, domain.ErrNoMarket)

	_, err = v.SelectMarket(context.Background(), "doge", time.Unix(windowStart, 0))
	assert.ErrorIs(t, err, domain.ErrNoMarket)
}

func TestVenue_FetchResult(t *testing.T) {
	srv := newGammaServer(t)
	defer srv.Close()

	v := polymarket.NewVenue(polymarket.NewGammaClient(srv.URL, testLogger()), nil, nil, nil,
		polymarket.VenueOptions{}, testLogger())

	res, err := v.FetchResult(context.Background(), "m0")
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, domain.OutcomeDown, res.Outcome)

	res, err = v.FetchResult(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, res.Closed)
	assert.Equal(t, domain.OutcomeUnknown, res.Outcome)

	_, err = v.FetchResult(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVenue_ReferenceFallbacks(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/crypto/crypto-price":
			assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
			assert.Equal(t, "fifteen", r.URL.Query().Get("variant"))
			_, _ = w.Write([]byte(`{"openPrice":96500.25,"closePrice":null}`))
		case "/event/btc-updown-15m-1":
			_, _ = w.Write([]byte(`<html><script>{"props":{"priceToBeat":"96400.5"}}</script></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer site.Close()

	hist := &fakeHistorical{price: 96000}
	now := time.Unix(windowStart+60, 0)
	v := polymarket.NewVenue(nil, nil, polymarket.NewSiteClient(site.URL, testLogger()), hist,
		polymarket.VenueOptions{
			Coins: map[string]polymarket.CoinSelector{"btc": {Symbol: "btc", BinanceSymbol: "BTCUSDT"}},
			Clock: func() time.Time { return now },
		}, testLogger())

	m := domain.Market{
		Coin:      "btc",
		OpenTime:  time.Unix(windowStart, 0),
		CloseTime: time.Unix(windowStart+900, 0),
		URL:       site.URL + "/event/btc-updown-15m-1",
	}

	val, recheck, err := v.LookupReference(context.Background(), m, domain.RefPriceToBeat)
	require.NoError(t, err)
	assert.Equal(t, 96500.25, val)
	assert.False(t, recheck)

	val, recheck, err = v.LookupReference(context.Background(), m, domain.RefHTML)
	require.NoError(t, err)
	assert.Equal(t, 96400.5, val)
	assert.True(t, recheck)

	val, recheck, err = v.LookupReference(context.Background(), m, domain.RefHistorical)
	require.NoError(t, err)
	assert.Equal(t, 96000.0, val)
	assert.True(t, recheck)
	assert.True(t, hist.at.Equal(m.OpenTime))

	early := m
	early.OpenTime = now.Add(time.Minute)
	_, _, err = v.LookupReference(context.Background(), early, domain.RefHistorical)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExtractPriceToBeat(t *testing.T) {
	tests := []struct {
		name string
		page string
		want float64
		ok   bool
	}{
		{"json number", `{"priceToBeat":97000.1}`, 97000.1, true},
		{"json string", `{"priceToBeat":"97000.2"}`, 97000.2, true},
		{"open price", `{"openPrice":1.5}`, 1.5, true},
		{"text", `<div>Price to beat: $97,123.45</div>`, 97123.45, true},
		{"zero skipped", `{"priceToBeat":0,"openPrice":5}`, 5, true},
		{"none", `<html></html>`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := polymarket.ExtractPriceToBeat(tt.page)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
