package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using Redis hashes.
// Each instrument is stored at "{prefix}snapshot:{venue}:{coin}" with one
// field per summary attribute; prices are decimal strings and timestamps are
// Unix nanoseconds.
type SnapshotCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client. A
// positive ttl expires instruments whose hub stopped publishing.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{c: c, rdb: c.Redis(), ttl: ttl}
}

func (sc *SnapshotCache) key(venue domain.Venue, coin string) string {
	return sc.c.Key("snapshot", string(venue), coin)
}

// Put stores the summary and refreshes its TTL in one round trip.
func (sc *SnapshotCache) Put(ctx context.Context, sum domain.SnapshotSummary) error {
	key := sc.key(sum.Venue, sum.Coin)
	_, err := sc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, summaryFields(sum))
		if sc.ttl > 0 {
			pipe.Expire(ctx, key, sc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put snapshot %s/%s: %w", sum.Venue, sum.Coin, err)
	}
	return nil
}

// Get retrieves the cached summary for (venue, coin). It returns
// domain.ErrNotFound when the key does not exist.
func (sc *SnapshotCache) Get(ctx context.Context, venue domain.Venue, coin string) (domain.SnapshotSummary, error) {
	vals, err := sc.rdb.HGetAll(ctx, sc.key(venue, coin)).Result()
	if err != nil {
		return domain.SnapshotSummary{}, fmt.Errorf("redis: get snapshot %s/%s: %w", venue, coin, err)
	}
	if len(vals) == 0 {
		return domain.SnapshotSummary{}, domain.ErrNotFound
	}
	sum, err := parseSummary(vals)
	if err != nil {
		return domain.SnapshotSummary{}, fmt.Errorf("redis: parse snapshot %s/%s: %w", venue, coin, err)
	}
	return sum, nil
}

func summaryFields(sum domain.SnapshotSummary) map[string]interface{} {
	return map[string]interface{}{
		"venue":         string(sum.Venue),
		"coin":          sum.Coin,
		"market_id":     sum.MarketID,
		"slug":          sum.Slug,
		"close_time":    formatTime(sum.CloseTime),
		"up_bid":        formatFloat(sum.UpBid),
		"up_ask":        formatFloat(sum.UpAsk),
		"down_bid":      formatFloat(sum.DownBid),
		"down_ask":      formatFloat(sum.DownAsk),
		"spot":          formatFloat(sum.Spot),
		"reference":     formatFloat(sum.Reference),
		"ref_source":    string(sum.RefSource),
		"freshness":     string(sum.Freshness),
		"last_book_at":  formatTime(sum.LastBookAt),
		"last_price_at": formatTime(sum.LastPriceAt),
		"updated_at":    formatTime(sum.UpdatedAt),
	}
}

func parseSummary(vals map[string]string) (domain.SnapshotSummary, error) {
	p := fieldParser{vals: vals}
	sum := domain.SnapshotSummary{
		Venue:       domain.Venue(vals["venue"]),
		Coin:        vals["coin"],
		MarketID:    vals["market_id"],
		Slug:        vals["slug"],
		CloseTime:   p.time("close_time"),
		UpBid:       p.float("up_bid"),
		UpAsk:       p.float("up_ask"),
		DownBid:     p.float("down_bid"),
		DownAsk:     p.float("down_ask"),
		Spot:        p.float("spot"),
		Reference:   p.float("reference"),
		RefSource:   domain.ReferenceSource(vals["ref_source"]),
		Freshness:   domain.Freshness(vals["freshness"]),
		LastBookAt:  p.time("last_book_at"),
		LastPriceAt: p.time("last_price_at"),
		UpdatedAt:   p.time("updated_at"),
	}
	return sum, p.err
}

// fieldParser records the first parse failure so callers check once.
type fieldParser struct {
	vals map[string]string
	err  error
}

func (p *fieldParser) float(field string) float64 {
	s, ok := p.vals[field]
	if !ok || s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return f
}

func (p *fieldParser) time(field string) time.Time {
	s, ok := p.vals[field]
	if !ok || s == "" || s == "0" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("field %s: %w", field, err)
		}
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
