package domain

import (
	"context"
	"time"
)

// Well-known keys of the external cache.
const (
	CacheKeyListings      = "market_listings"
	CacheKeyCatalog       = "catalog"
	CacheKeyMarketDataPfx = "market_data:"
)

// KVStore is the external, untrusted key-value cache. Get returns
// ErrNotFound on a miss.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// PriceCache keeps the last trade price per token.
type PriceCache interface {
	SetLastPrice(ctx context.Context, token string, price6 uint64, ts time.Time) error
	GetLastPrice(ctx context.Context, token string) (uint64, time.Time, error)
	GetLastPrices(ctx context.Context, tokens []string) (map[string]uint64, error)
}

// RateLimiter counts requests per key in a sliding window. Allow reports
// whether the request fits and how many remain.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld
// when another holder has the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry of a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries live updates over pub/sub and keeps capped durable
// streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamTail(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// Channel and stream names.
const (
	ChannelMarketPfx = "market:"
	ChannelStatus    = "status"
	StreamAnomalies  = "stream:anomalies"
)
