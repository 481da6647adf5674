package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// KVStore implements domain.KVStore with plain Redis strings. Values are
// opaque bytes; a zero ttl keeps entries until overwritten.
//
// Key schema:
//
//	{prefix}kv:{key}
type KVStore struct {
	c   *Client
	ttl time.Duration
}

// NewKVStore creates a KVStore backed by the given Client.
func NewKVStore(c *Client, ttl time.Duration) *KVStore {
	return &KVStore{c: c, ttl: ttl}
}

// Get returns the stored bytes or domain.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.c.rdb.Get(ctx, s.c.key("kv:", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

// Set overwrites the value at key.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.c.rdb.Set(ctx, s.c.key("kv:", key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.KVStore = (*KVStore)(nil)
