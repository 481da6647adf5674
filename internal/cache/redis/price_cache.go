package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// last trade is stored at "{prefix}lastprice:{token}" with fields "price6"
// and "ts" (Unix seconds).
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) priceKey(token string) string {
	return pc.c.key("lastprice:", token)
}

// SetLastPrice stores the last trade price of a token.
func (pc *PriceCache) SetLastPrice(ctx context.Context, token string, price6 uint64, ts time.Time) error {
	fields := map[string]any{
		"price6": strconv.FormatUint(price6, 10),
		"ts":     strconv.FormatInt(ts.Unix(), 10),
	}
	if err := pc.c.rdb.HSet(ctx, pc.priceKey(token), fields).Err(); err != nil {
		return fmt.Errorf("redis: set last price %s: %w", token, err)
	}
	return nil
}

// GetLastPrice returns the last trade price and its time, or
// domain.ErrNotFound.
func (pc *PriceCache) GetLastPrice(ctx context.Context, token string) (uint64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(token)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get last price %s: %w", token, err)
	}
	price6, ts, ok := parsePrice(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price6, ts, nil
}

// GetLastPrices fetches several tokens in one pipeline. Tokens without a
// usable entry are omitted.
func (pc *PriceCache) GetLastPrices(ctx context.Context, tokens []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tokens))
	for _, tok := range tokens {
		cmds[tok] = pipe.HGetAll(ctx, pc.priceKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get last prices: %w", err)
	}

	for tok, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if p, _, ok := parsePrice(vals); ok {
			out[tok] = p
		}
	}
	return out, nil
}

func parsePrice(vals map[string]string) (uint64, time.Time, bool) {
	ps, ok := vals["price6"]
	if !ok {
		return 0, time.Time{}, false
	}
	p, err := strconv.ParseUint(ps, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	var ts time.Time
	if sec, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil && sec > 0 {
		ts = time.Unix(sec, 0).UTC()
	}
	return p, ts, true
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
