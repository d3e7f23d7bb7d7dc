// Package redis publishes live run state to Redis: the latest snapshot per
// instrument, journal pub/sub and stream, and the single-run lease.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const clientName = "updownbot"

// ClientConfig holds connection parameters. Addr is either host:port or a
// redis:// or rediss:// URL; URL fields win over the discrete ones.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key, channel and stream. A trailing ":" is
	// added when missing.
	KeyPrefix string
}

// Client owns the go-redis connection pool and the key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb, prefix: normalizePrefix(cfg.KeyPrefix)}, nil
}

func options(cfg ClientConfig) (*redis.Options, error) {
	if strings.Contains(cfg.Addr, "://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts.ClientName = clientName
		if opts.PoolSize == 0 {
			opts.PoolSize = cfg.PoolSize
		}
		if opts.MaxRetries == 0 {
			opts.MaxRetries = cfg.MaxRetries
		}
		return opts, nil
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		ClientName: clientName,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func normalizePrefix(p string) string {
	if p == "" || strings.HasSuffix(p, ":") {
		return p
	}
	return p + ":"
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key joins parts with ":" under the prefix.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// Redis exposes the driver to the cache, bus and lease types in this package.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
