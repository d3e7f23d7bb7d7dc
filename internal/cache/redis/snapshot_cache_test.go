package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestSummaryFieldsRoundTrip(t *testing.T) {
	closeAt := time.Date(2025, 10, 9, 12, 15, 0, 0, time.UTC)
	sum := domain.SnapshotSummary{
		Venue:      domain.VenueKalshi,
		Coin:       "btc",
		MarketID:   "KXBTC15M-25OCT091215",
		CloseTime:  closeAt,
		UpBid:      0.61,
		UpAsk:      0.63,
		DownAsk:    0.39,
		Spot:       101234.5,
		Reference:  101000,
		RefSource:  domain.RefPriceToBeat,
		Freshness:  domain.FreshnessHealthy,
		LastBookAt: closeAt.Add(-time.Minute),
		UpdatedAt:  closeAt.Add(-50 * time.Second),
	}

	vals := make(map[string]string)
	for k, v := range summaryFields(sum) {
		vals[k] = v.(string)
	}
	assert.Equal(t, "0", vals["last_price_at"], "zero times are stored as 0")

	got, err := parseSummary(vals)
	require.NoError(t, err)
	assert.Equal(t, sum, got)
}

func TestParseSummaryErrors(t *testing.T) {
	_, err := parseSummary(map[string]string{"coin": "btc", "up_bid": "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "up_bid")

	_, err = parseSummary(map[string]string{"coin": "btc", "close_time": "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close_time")

	got, err := parseSummary(map[string]string{"coin": "eth"})
	require.NoError(t, err, "missing fields are zero")
	assert.Equal(t, "eth", got.Coin)
}

type busCall struct {
	op, target string
	payload    []byte
}

type memBus struct{ calls []busCall }

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.calls = append(m.calls, busCall{"publish", channel, payload})
	return nil
}

func (m *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	m.calls = append(m.calls, busCall{"xadd", stream, payload})
	return nil
}

func TestJournalRecorder(t *testing.T) {
	bus := &memBus{}
	r := NewJournalRecorder(&Client{prefix: "updown:"}, bus)
	assert.Equal(t, "redis", r.Name())

	rec := domain.Record{Level: domain.LevelInfo, Component: "profile", Kind: domain.KindFill, Coin: "btc", Message: "filled"}
	require.NoError(t, r.Record(context.Background(), rec))
	require.NoError(t, r.Record(context.Background(), domain.Record{Level: domain.LevelWarn, Message: "no kind"}))

	require.Len(t, bus.calls, 3)
	assert.Equal(t, busCall{"xadd", "updown:journal", bus.calls[0].payload}, bus.calls[0])
	assert.Equal(t, "publish", bus.calls[1].op)
	assert.Equal(t, "updown:journal:fill", bus.calls[1].target)
	assert.Equal(t, "xadd", bus.calls[2].op)

	var decoded domain.Record
	require.NoError(t, json.Unmarshal(bus.calls[1].payload, &decoded))
	assert.Equal(t, "filled", decoded.Message)
	assert.Equal(t, "btc", decoded.Coin)
}
