package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/cache/redis"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure a run publishes to. Every
// field is nil when its backend is disabled. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Redis
	SnapshotCache domain.SnapshotCache
	EventBus      *redis.EventBus
	// Lease is held for the whole run so a second process cannot publish
	// under the same key prefix.
	Lease       *redis.RunLease
	redisClient *redis.Client

	// Postgres
	PositionStore *postgres.PositionStore
	AuditStore    *postgres.AuditStore

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobPrefix string

	// Notifications
	Notifier *notify.Notifier

	// Probes back /api/health, keyed by dependency name.
	Probes map[string]handler.Check
}

// Recorders returns the journal recorders backed by the wired dependencies.
func (d *Dependencies) Recorders(cfg *config.Config) []journal.Recorder {
	var out []journal.Recorder
	if d.EventBus != nil {
		out = append(out, redis.NewJournalRecorder(d.redisClient, d.EventBus))
	}
	if d.AuditStore != nil {
		out = append(out, postgres.NewAuditRecorder(d.AuditStore, cfg.Postgres.AuditLevels, cfg.Postgres.AuditKinds))
	}
	if d.Notifier != nil && d.Notifier.Enabled() {
		out = append(out, d.Notifier)
	}
	return out
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool, runID)
		deps.Probes["postgres"] = pgClient.Ping
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		lease := redis.NewRunLease(redisClient, "run", 30*time.Second, "")
		if err := lease.Acquire(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, lease.Release)

		deps.Lease = lease
		deps.redisClient = redisClient
		deps.Probes["redis"] = redisClient.Ping
		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.EventBus = redis.NewEventBus(redisClient, cfg.Redis.StreamMaxLen)
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Ping(ctx); err != nil {
			// The upload only happens at shutdown; the bucket may appear by then.
			logger.WarnContext(ctx, "s3 bucket not reachable", slog.String("error", err.Error()))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobPrefix = s3Client.Prefix()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			notify.DefaultTelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Kinds, cfg.Notify.MinLevel, logger)

	return deps, cleanup, nil
}
