package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// defaultStreamMaxLen is used when the configured cap is not positive.
const defaultStreamMaxLen int64 = 10000

// EventBus implements domain.EventBus using Redis Pub/Sub for live fan-out
// and a Redis Stream, trimmed with XADD MAXLEN ~, for replay.
type EventBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client, streamMaxLen int64) *EventBus {
	if streamMaxLen <= 0 {
		streamMaxLen = defaultStreamMaxLen
	}
	return &EventBus{rdb: c.Redis(), maxLen: streamMaxLen}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends a payload to a Redis stream with an approximate
// MAXLEN so old entries are trimmed automatically.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)

// JournalRecorder forwards journal records to an EventBus. Every record is
// appended to "{prefix}journal"; records with a kind are also published on
// "{prefix}journal:{kind}" for live subscribers.
type JournalRecorder struct {
	bus    domain.EventBus
	stream string
	prefix string
}

// NewJournalRecorder builds a recorder that writes under the client's prefix.
func NewJournalRecorder(c *Client, bus domain.EventBus) *JournalRecorder {
	return &JournalRecorder{bus: bus, stream: c.Key("journal"), prefix: c.Key("journal") + ":"}
}

// Name implements journal.Recorder.
func (r *JournalRecorder) Name() string { return "redis" }

// Record implements journal.Recorder.
func (r *JournalRecorder) Record(ctx context.Context, rec domain.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}
	if err := r.bus.StreamAppend(ctx, r.stream, payload); err != nil {
		return err
	}
	if rec.Kind == "" {
		return nil
	}
	return r.bus.Publish(ctx, r.channel(rec.Kind), payload)
}

func (r *JournalRecorder) channel(kind string) string {
	return r.prefix + strings.ToLower(kind)
}
