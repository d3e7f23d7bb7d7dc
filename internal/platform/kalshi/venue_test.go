package kalshi_test

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
	"github.com/alanyoungcy/updownbot/internal/platform/kalshi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const windowStart = 1760000400

func marketJSON(ticker string, start int64, status string, strike float64, extra string) string {
	return fmt.Sprintf(`{"ticker":%q,"event_ticker":"KXBTC15M-EV","title":"BTC up in 15 mins?","status":%q,
		"floor_strike":%g,"open_time":%q,"close_time":%q%s}`,
		ticker, status, strike,
		time.Unix(start, 0).UTC().Format(time.RFC3339),
		time.Unix(start+900, 0).UTC().Format(time.RFC3339), extra)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KXBTC15M", r.URL.Query().Get("series_ticker"))
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprintf(w, `{"markets":[%s],"cursor":"p2"}`, marketJSON("LATER", windowStart+900, "active", 0, ""))
			return
		}
		fmt.Fprintf(w, `{"markets":[%s,%s],"cursor":""}`,
			marketJSON("NOW", windowStart, "active", 97000.5, ""),
			marketJSON("DONE", windowStart-900, "closed", 96000, ""))
	})
	mux.HandleFunc("/markets/NOW", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"market":%s}`, marketJSON("NOW", windowStart, "active", 97000.5, ""))
	})
	mux.HandleFunc("/markets/LATE_STRIKE", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"market":%s}`, marketJSON("LATE_STRIKE", windowStart, "active", 97111, ""))
	})
	mux.HandleFunc("/markets/DONE", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"market":%s}`, marketJSON("DONE", windowStart-900, "settled", 96000,
			`,"result":"no","expiration_value":"95,912.10","expiration_time":"2025-10-09T09:00:00Z"`))
	})
	mux.HandleFunc("/markets/NOW/orderbook", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"orderbook":{"yes":[[41,10]],"no":[[57,4]]}}`))
	})
	return httptest.NewServer(mux)
}

func newVenue(srv *httptest.Server, coins map[string]kalshi.CoinSelector, now time.Time) *kalshi.Venue {
	return kalshi.NewVenue(kalshi.NewClient(srv.URL, nil, testLogger()), nil,
		kalshi.VenueOptions{Coins: coins, Clock: func() time.Time { return now }}, testLogger())
}

func TestVenue_SelectMarketFromSeries(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	now := time.Unix(windowStart+60, 0)
	v := newVenue(srv, map[string]kalshi.CoinSelector{"btc": {Series: "KXBTC15M"}}, now)

	m, err := v.SelectMarket(context.Background(), "btc", now)
	require.NoError(t, err)
	assert.Equal(t, "NOW", m.ID)
	assert.Equal(t, domain.VenueKalshi, m.Venue)
	assert.Equal(t, "NOW:yes", m.Up.ID)
	assert.Equal(t, "NOW:no", m.Down.ID)
	assert.Equal(t, 97000.5, m.PriceToBeat)
	assert.Equal(t, []string{"NOW"}, v.SubscriptionIDs(m))

	fields := v.Fields(m)
	require.NotNil(t, fields.Kalshi)
	assert.Equal(t, "KXBTC15M-EV", fields.Kalshi.EventTicker)
	assert.Equal(t, 97000.5, fields.Kalshi.FloorStrike)
}

func TestVenue_SelectMarketExplicitTickers(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	now := time.Unix(windowStart+60, 0)
	v := newVenue(srv, map[string]kalshi.CoinSelector{"btc": {Tickers: []string{"DONE", "MISSING", "NOW"}}}, now)

	m, err := v.SelectMarket(context.Background(), "btc", now)
	require.NoError(t, err)
	assert.Equal(t, "NOW", m.ID)

	_, err = v.SelectMarket(context.Background(), "eth", now)
	assert.ErrorIs(t, err, domain.ErrNoMarket)
}

func TestVenue_LookupReferenceRefetchesStrike(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	now := time.Unix(windowStart+60, 0)
	v := newVenue(srv, nil, now)

	m := domain.Market{ID: "LATE_STRIKE", OpenTime: time.Unix(windowStart, 0)}
	val, recheck, err := v.LookupReference(context.Background(), m, domain.RefPriceToBeat)
	require.NoError(t, err)
	assert.Equal(t, 97111.0, val)
	assert.False(t, recheck)

	_, _, err = v.LookupReference(context.Background(), m, domain.RefHistorical)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m.OpenTime = now.Add(time.Minute)
	_, _, err = v.LookupReference(context.Background(), m, domain.RefPriceToBeat)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVenue_ResultAndUnderlying(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	v := newVenue(srv, nil, time.Unix(windowStart+60, 0))

	res, err := v.FetchResult(context.Background(), "DONE")
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, domain.OutcomeDown, res.Outcome)
	assert.InDelta(t, 95912.10, res.FinalPrice, 1e-9)

	val, at, err := v.FetchUnderlying(context.Background(), domain.Market{ID: "DONE"})
	require.NoError(t, err)
	assert.InDelta(t, 95912.10, val, 1e-9)
	assert.Equal(t, time.Date(2025, 10, 9, 9, 0, 0, 0, time.UTC), at)

	_, _, err = v.FetchUnderlying(context.Background(), domain.Market{ID: "NOW"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = v.FetchResult(context.Background(), "MISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVenue_FetchBooks(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	v := newVenue(srv, nil, time.Now())
	books, err := v.FetchBooks(context.Background(), domain.Market{ID: "NOW"})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "NOW:yes", books[0].TokenID)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.41, Size: 10}}, books[0].Bids)
	assert.InDelta(t, 0.43, books[0].Asks[0].Price, 1e-9)
	assert.Equal(t, "NOW:no", books[1].TokenID)
}

func TestKalshiMarket_Settlement(t *testing.T) {
	tests := []struct {
		name   string
		market kalshi.KalshiMarket
		closed bool
		want   domain.Outcome
		final  float64
	}{
		{"open", kalshi.KalshiMarket{Status: "active"}, false, domain.OutcomeUnknown, 0},
		{"yes", kalshi.KalshiMarket{Status: "settled", Result: "yes", ExpirationValue: "101,250.5"}, true, domain.OutcomeUp, 101250.5},
		{"no upper case", kalshi.KalshiMarket{Status: "finalized", Result: "NO"}, true, domain.OutcomeDown, 0},
		{"closed unsettled", kalshi.KalshiMarket{Status: "closed"}, true, domain.OutcomeUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.market.Settlement()
			assert.Equal(t, tt.closed, res.Closed)
			assert.Equal(t, tt.want, res.Outcome)
			assert.InDelta(t, tt.final, res.FinalPrice, 1e-9)
		})
	}
}
