package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// releaseLua deletes the lease key only if it still holds the caller's token,
// so a holder whose lease expired never releases its successor's.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lease only while the caller still holds it.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// RunLease is a renewable Redis lock that keeps two runs from publishing
// snapshots and journal records under the same key prefix.
type RunLease struct {
	rdb     *redis.Client
	key     string
	ttl     time.Duration
	token   string
	release *redis.Script
	renew   *redis.Script

	mu   sync.Mutex
	held bool
}

// NewRunLease creates a lease on "{prefix}lock:{name}". The token written to
// the key is a fresh UUID unless one is given.
func NewRunLease(c *Client, name string, ttl time.Duration, token string) *RunLease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if token == "" {
		token = uuid.NewString()
	}
	return &RunLease{
		rdb:     c.Redis(),
		key:     c.Key("lock", name),
		ttl:     ttl,
		token:   token,
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
	}
}

// Key returns the lease key.
func (l *RunLease) Key() string {
	return l.key
}

// Acquire takes the lease. It returns domain.ErrLockHeld when another run
// holds it.
func (l *RunLease) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("redis: lease %s: %w", l.key, domain.ErrLockHeld)
	}
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	return nil
}

// Keep renews the lease every third of its TTL until ctx is cancelled. It
// returns domain.ErrLockHeld if the lease was lost in the meantime.
func (l *RunLease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.renew.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// A transient error is retried on the next tick; the TTL
				// leaves room for two misses.
				continue
			}
			if n == 0 {
				return fmt.Errorf("redis: lease %s lost: %w", l.key, domain.ErrLockHeld)
			}
		}
	}
}

// Release gives the lease up. It is safe to call more than once.
func (l *RunLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false

	// Use a background context so release succeeds even if the caller's
	// context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.release.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
