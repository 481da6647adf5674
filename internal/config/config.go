// Package config defines the top-level configuration for the rwamarket
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RWAMARKET_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Market   MarketConfig   `toml:"market"`
	Cache    CacheConfig    `toml:"cache"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the RPC endpoints and contract addresses.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	FallbackURLs []string `toml:"fallback_urls"`
	MaxRetries   int      `toml:"max_retries"`
	RetryDelay   duration `toml:"retry_delay"`
	CallTimeout  duration `toml:"call_timeout"`
	LogChunkSize uint64   `toml:"log_chunk_size"` // 0 queries the whole range at once
	FromBlock    uint64   `toml:"from_block"`     // 0 means earliest
	Marketplace  string   `toml:"marketplace"`
	Factory      string   `toml:"factory"`
	USD          string   `toml:"usd"`
	Vault        string   `toml:"vault"`
}

// URLs returns the primary RPC URL followed by the fallbacks.
func (c ChainConfig) URLs() []string {
	out := make([]string, 0, 1+len(c.FallbackURLs))
	if c.RPCURL != "" {
		out = append(out, c.RPCURL)
	}
	for _, u := range c.FallbackURLs {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// MarketConfig tunes snapshot builds.
type MarketConfig struct {
	Verify      bool     `toml:"verify"`
	Concurrency int      `toml:"concurrency"`
	PendingTTL  duration `toml:"pending_ttl"`
	MaxAge      duration `toml:"max_age"`
	AnomalyTail int      `toml:"anomaly_tail"`
}

// CacheConfig selects the key-value cache backend.
type CacheConfig struct {
	Backend      string   `toml:"backend"` // redis, postgres or none
	TTL          duration `toml:"ttl"`
	WriteTimeout duration `toml:"write_timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds the background refresh and archive parameters.
type PipelineConfig struct {
	Enabled         bool     `toml:"enabled"`
	RefreshInterval duration `toml:"refresh_interval"`
	LockTTL         duration `toml:"lock_ttl"`
	ArchiveEnabled  bool     `toml:"archive_enabled"`
	ArchiveCron     string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // guards write endpoints when set
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	DedupTTL          duration `toml:"dedup_ttl"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:       "http://localhost:8545",
			MaxRetries:   2,
			RetryDelay:   duration{250 * time.Millisecond},
			CallTimeout:  duration{15 * time.Second},
			LogChunkSize: 0,
		},
		Market: MarketConfig{
			Verify:      true,
			Concurrency: 8,
			PendingTTL:  duration{10 * time.Minute},
			MaxAge:      duration{30 * time.Second},
			AnomalyTail: 100,
		},
		Cache: CacheConfig{
			Backend:      "redis",
			TTL:          duration{24 * time.Hour},
			WriteTimeout: duration{5 * time.Second},
		},
		Supabase: SupabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "rwamarket:",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "rwamarket-snapshots",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			Enabled:         true,
			RefreshInterval: duration{30 * time.Second},
			LockTTL:         duration{2 * time.Minute},
			ArchiveEnabled:  false,
			ArchiveCron:     "0 * * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"verification_mismatch", "degraded", "recovered"},
			DedupTTL: duration{time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"refresh": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCacheBackends = map[string]bool{
	"redis":    true,
	"postgres": true,
	"none":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, refresh, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if len(c.Chain.URLs()) == 0 {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.MaxRetries < 0 {
		errs = append(errs, "chain: max_retries must be >= 0")
	}
	if !common.IsHexAddress(c.Chain.Marketplace) {
		errs = append(errs, fmt.Sprintf("chain: marketplace must be a hex address, got %q", c.Chain.Marketplace))
	}
	for _, f := range []struct{ name, v string }{
		{"factory", c.Chain.Factory},
		{"usd", c.Chain.USD},
		{"vault", c.Chain.Vault},
	} {
		if f.v != "" && !common.IsHexAddress(f.v) {
			errs = append(errs, fmt.Sprintf("chain: %s must be a hex address, got %q", f.name, f.v))
		}
	}

	// Market
	if c.Market.Concurrency < 1 {
		errs = append(errs, "market: concurrency must be >= 1")
	}
	if c.Market.PendingTTL.Duration < 0 {
		errs = append(errs, "market: pending_ttl must not be negative")
	}
	if c.Market.MaxAge.Duration < 0 {
		errs = append(errs, "market: max_age must not be negative")
	}

	// Cache
	backend := strings.ToLower(c.Cache.Backend)
	if !validCacheBackends[backend] {
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: redis, postgres, none)", c.Cache.Backend))
	}
	if backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "cache: backend redis requires redis.enabled")
	}
	if backend == "postgres" && !c.Supabase.Enabled {
		errs = append(errs, "cache: backend postgres requires supabase.enabled")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Pipeline
	if c.Pipeline.Enabled && c.Pipeline.RefreshInterval.Duration <= 0 {
		errs = append(errs, "pipeline: refresh_interval must be > 0 when enabled")
	}
	if c.Pipeline.ArchiveEnabled {
		if !c.S3.Enabled {
			errs = append(errs, "pipeline: archive_enabled requires s3.enabled")
		}
		if len(strings.Fields(c.Pipeline.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("pipeline: archive_cron must have 5 fields, got %q", c.Pipeline.ArchiveCron))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
