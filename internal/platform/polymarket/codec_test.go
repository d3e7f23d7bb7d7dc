package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestMarketCodec_Frames(t *testing.T) {
	c := MarketCodec{}

	init, err := c.SubscribeFrames([]string{"a", "b"}, true)
	require.NoError(t, err)
	require.Len(t, init, 1)
	assert.JSONEq(t, `{"type":"market","assets_ids":["a","b"]}`, string(init[0]))

	sub, err := c.SubscribeFrames([]string{"c"}, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets_ids":["c"],"operation":"subscribe"}`, string(sub[0]))

	unsub, err := c.UnsubscribeFrames([]string{"a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"assets_ids":["a"],"operation":"unsubscribe"}`, string(unsub[0]))
}

func TestMarketCodec_DecodeBookBatch(t *testing.T) {
	raw := `[{"event_type":"book","asset_id":"up","market":"0xc","timestamp":"1760000000123",
		"bids":[{"price":"0.48","size":"10"},{"price":"0.47","size":"5"}],
		"asks":[{"price":"0.52","size":"7"},{"price":"bad","size":"1"}]},
		{"event_type":"book","asset_id":"down","timestamp":"1760000000123","bids":[],"asks":[{"price":"0.5","size":"3"}]}]`

	recv := time.Unix(1, 0)
	evs, err := MarketCodec{}.Decode([]byte(raw), recv)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	up, ok := evs[0].(domain.BookSnapshotEvent)
	require.True(t, ok)
	assert.Equal(t, domain.VenuePolymarket, up.Venue)
	assert.Equal(t, "up", up.TokenID)
	assert.Len(t, up.Bids, 2)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.52, Size: 7}}, up.Asks)
	assert.Equal(t, time.UnixMilli(1760000000123).UTC(), up.TS)
}

func TestMarketCodec_DecodePriceChange(t *testing.T) {
	raw := `{"event_type":"price_change","market":"0xc","timestamp":"1760000000000","price_changes":[
		{"asset_id":"up","side":"BUY","price":"0.49","size":"12"},
		{"asset_id":"down","side":"SELL","price":"0.53","size":"0"},
		{"asset_id":"down","side":"HOLD","price":"0.53","size":"1"}]}`

	evs, err := MarketCodec{}.Decode([]byte(raw), time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 2)

	d0 := evs[0].(domain.BookDeltaEvent)
	assert.Equal(t, domain.BookSideBid, d0.Side)
	assert.Equal(t, 0.49, d0.Price)
	assert.Equal(t, 12.0, d0.Size)

	d1 := evs[1].(domain.BookDeltaEvent)
	assert.Equal(t, domain.BookSideAsk, d1.Side)
	assert.Equal(t, 0.0, d1.Size)
}

func TestMarketCodec_DecodeLegacyPriceChange(t *testing.T) {
	raw := `{"event_type":"price_change","asset_id":"up","side":"SELL","price":"0.6","size":"4","timestamp":"1760000000000"}`
	evs, err := MarketCodec{}.Decode([]byte(raw), time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "up", evs[0].(domain.BookDeltaEvent).TokenID)
}

func TestMarketCodec_DecodeTrade(t *testing.T) {
	raw := `{"event_type":"last_trade_price","asset_id":"up","price":"0.55","size":"20","side":"SELL","timestamp":"1760000000000"}`
	evs, err := MarketCodec{}.Decode([]byte(raw), time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 1)

	tr := evs[0].(domain.TradeEvent)
	assert.Equal(t, 0.55, tr.Price)
	assert.Equal(t, 20.0, tr.Size)
	assert.False(t, tr.Buy)
}

func TestMarketCodec_DecodeIgnoresUnknown(t *testing.T) {
	evs, err := MarketCodec{}.Decode([]byte(`{"event_type":"tick_size_change"}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = MarketCodec{}.Decode([]byte(`{not json`), time.Now())
	assert.Error(t, err)
}

func TestSpotCodec(t *testing.T) {
	c := NewSpotCodec(domain.VenueKalshi, SpotSourceChainlink, map[string]string{"BTC/USD": "btc"})

	frames, err := c.SubscribeFrames([]string{"btc/usd"}, true)
	require.NoError(t, err)
	var req rtdsRequest
	require.NoError(t, json.Unmarshal(frames[0], &req))
	assert.Equal(t, "subscribe", req.Action)
	require.Len(t, req.Subscriptions, 1)
	assert.Equal(t, "crypto_prices_chainlink", req.Subscriptions[0].Topic)
	assert.JSONEq(t, `{"symbol":"btc/usd"}`, req.Subscriptions[0].Filters)

	raw := `{"topic":"crypto_prices_chainlink","type":"update","timestamp":1760000001000,
		"payload":{"symbol":"btc/usd","timestamp":1760000000500,"value":"97000.5"}}`
	evs, err := c.Decode([]byte(raw), time.Now())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	ev := evs[0].(domain.SpotEvent)
	assert.Equal(t, domain.VenueKalshi, ev.Venue)
	assert.Equal(t, "btc", ev.Coin)
	assert.Equal(t, 97000.5, ev.Price)
	assert.Equal(t, time.UnixMilli(1760000000500).UTC(), ev.TS)

	hist := `{"topic":"crypto_prices_chainlink","type":"subscribe","payload":{"symbol":"btc/usd",
		"data":[{"timestamp":1,"value":1.5},{"timestamp":2,"value":2.5}]}}`
	evs, err = c.Decode([]byte(hist), time.Now())
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	other := `{"topic":"crypto_prices_chainlink","payload":{"symbol":"eth/usd","value":3000}}`
	evs, err = c.Decode([]byte(other), time.Now())
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestSpotCodec_BinanceTopic(t *testing.T) {
	c := NewSpotCodec(domain.VenuePolymarket, SpotSourceBinance, map[string]string{"btcusdt": "btc"})
	frames, err := c.UnsubscribeFrames([]string{"btcusdt"})
	require.NoError(t, err)
	assert.Contains(t, string(frames[0]), `"topic":"crypto_prices"`)
	assert.Contains(t, string(frames[0]), `"type":"update"`)
	assert.Contains(t, string(frames[0]), `"action":"unsubscribe"`)
}
