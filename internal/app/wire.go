package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/rwamarket/internal/blob/s3"
	"github.com/alanyoungcy/rwamarket/internal/cache/redis"
	"github.com/alanyoungcy/rwamarket/internal/config"
	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/notify"
	"github.com/alanyoungcy/rwamarket/internal/platform/evm"
	"github.com/alanyoungcy/rwamarket/internal/server/handler"
	"github.com/alanyoungcy/rwamarket/internal/store/postgres"
)

// Dependencies bundles every adapter the application modes need. Optional
// adapters are left as nil interfaces when their backend is disabled.
type Dependencies struct {
	// Ledger
	Chain *evm.Client

	// Caches
	KV          domain.KVStore
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Stores
	AuditStore domain.AuditStore
	Archive    domain.SnapshotArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes per backend.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Ledger RPC ---
	chain, err := evm.Dial(ctx, evm.Config{
		URLs:        cfg.Chain.URLs(),
		MaxRetries:  cfg.Chain.MaxRetries,
		RetryDelay:  cfg.Chain.RetryDelay.Duration,
		CallTimeout: cfg.Chain.CallTimeout.Duration,
		ChunkSize:   cfg.Chain.LogChunkSize,
	}, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, chain.Close)
	deps.Chain = chain
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := chain.LatestBlock(ctx)
		return err
	}

	backend := strings.ToLower(cfg.Cache.Backend)

	// --- PostgreSQL ---
	var pg *postgres.Client
	if cfg.Supabase.Enabled {
		pg, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Supabase.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pg.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		if backend == "postgres" {
			deps.KV = postgres.NewKVStore(pool)
		}
		deps.Checks["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		if backend == "redis" {
			deps.KV = redis.NewKVStore(rc, cfg.Cache.TTL.Duration)
		}
		deps.PriceCache = redis.NewPriceCache(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 snapshot archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archive = s3blob.NewSnapshotArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc), deps.AuditStore)
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.DedupTTL.Duration, logger)

	return deps, cleanup, nil
}
