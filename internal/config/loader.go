package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RWAMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RWAMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "RWAMARKET_CHAIN_RPC_URL")
	setStringSlice(&cfg.Chain.FallbackURLs, "RWAMARKET_CHAIN_FALLBACK_URLS")
	setInt(&cfg.Chain.MaxRetries, "RWAMARKET_CHAIN_MAX_RETRIES")
	setDuration(&cfg.Chain.RetryDelay, "RWAMARKET_CHAIN_RETRY_DELAY")
	setDuration(&cfg.Chain.CallTimeout, "RWAMARKET_CHAIN_CALL_TIMEOUT")
	setUint64(&cfg.Chain.LogChunkSize, "RWAMARKET_CHAIN_LOG_CHUNK_SIZE")
	setUint64(&cfg.Chain.FromBlock, "RWAMARKET_CHAIN_FROM_BLOCK")
	setStr(&cfg.Chain.Marketplace, "RWAMARKET_CHAIN_MARKETPLACE")
	setStr(&cfg.Chain.Factory, "RWAMARKET_CHAIN_FACTORY")
	setStr(&cfg.Chain.USD, "RWAMARKET_CHAIN_USD")
	setStr(&cfg.Chain.Vault, "RWAMARKET_CHAIN_VAULT")

	// ── Market ──
	setBool(&cfg.Market.Verify, "RWAMARKET_MARKET_VERIFY")
	setInt(&cfg.Market.Concurrency, "RWAMARKET_MARKET_CONCURRENCY")
	setDuration(&cfg.Market.PendingTTL, "RWAMARKET_MARKET_PENDING_TTL")
	setDuration(&cfg.Market.MaxAge, "RWAMARKET_MARKET_MAX_AGE")
	setInt(&cfg.Market.AnomalyTail, "RWAMARKET_MARKET_ANOMALY_TAIL")

	// ── Cache ──
	setStr(&cfg.Cache.Backend, "RWAMARKET_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "RWAMARKET_CACHE_TTL")
	setDuration(&cfg.Cache.WriteTimeout, "RWAMARKET_CACHE_WRITE_TIMEOUT")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "RWAMARKET_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "RWAMARKET_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "RWAMARKET_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "RWAMARKET_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "RWAMARKET_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "RWAMARKET_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "RWAMARKET_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "RWAMARKET_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "RWAMARKET_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "RWAMARKET_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "RWAMARKET_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "RWAMARKET_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RWAMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RWAMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RWAMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RWAMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RWAMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RWAMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RWAMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "RWAMARKET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RWAMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RWAMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RWAMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "RWAMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RWAMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RWAMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RWAMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RWAMARKET_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "RWAMARKET_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.RefreshInterval, "RWAMARKET_PIPELINE_REFRESH_INTERVAL")
	setDuration(&cfg.Pipeline.LockTTL, "RWAMARKET_PIPELINE_LOCK_TTL")
	setBool(&cfg.Pipeline.ArchiveEnabled, "RWAMARKET_PIPELINE_ARCHIVE_ENABLED")
	setStr(&cfg.Pipeline.ArchiveCron, "RWAMARKET_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RWAMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RWAMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RWAMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RWAMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "RWAMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "RWAMARKET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RWAMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RWAMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RWAMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RWAMARKET_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.DedupTTL, "RWAMARKET_NOTIFY_DEDUP_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "RWAMARKET_MODE")
	setStr(&cfg.LogLevel, "RWAMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
