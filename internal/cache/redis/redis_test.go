package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "test:"), mr
}

func TestKVStore(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	kv := NewKVStore(c, time.Minute)

	_, err := kv.Get(ctx, domain.CacheKeyListings)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Set(ctx, domain.CacheKeyListings, []byte(`[]`)))
	got, err := kv.Get(ctx, domain.CacheKeyListings)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), got)
	assert.True(t, mr.Exists("test:kv:market_listings"))

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, domain.CacheKeyListings)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCache(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c)

	_, _, err := pc.GetLastPrice(ctx, "0xaa")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, pc.SetLastPrice(ctx, "0xaa", 2_500_000, ts))
	require.NoError(t, pc.SetLastPrice(ctx, "0xbb", 1_000_000, ts))
	mr.HSet("test:lastprice:0xcc", "price6", "garbage")

	p, gotTS, err := pc.GetLastPrice(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000), p)
	assert.Equal(t, ts, gotTS)

	all, err := pc.GetLastPrices(ctx, []string{"0xaa", "0xbb", "0xcc", "0xdd"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"0xaa": 2_500_000, "0xbb": 1_000_000}, all)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "refresh", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "refresh", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("test:lock:refresh"))

	unlock2, err := lm.Acquire(ctx, "refresh", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlock3, err := lm.Acquire(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	unlock2() // stale holder must not release the new lease
	assert.True(t, mr.Exists("test:lock:refresh"))
	unlock3()
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for want := 2; want >= 0; want-- {
		ok, remaining, err := rl.Allow(ctx, "ip", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, remaining)
	}
	ok, _, err := rl.Allow(ctx, "ip", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _, err = rl.Allow(ctx, "ip", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(c, 0)

	sub, err := sb.Subscribe(ctx, domain.ChannelMarketPfx+"*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.ChannelMarketPfx+"0xaa", []byte(`{"seq":1}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"seq":1}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, sb.StreamAppend(ctx, domain.StreamAnomalies, []byte(p)))
	}
	tail, err := sb.StreamTail(ctx, domain.StreamAnomalies, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "c", string(tail[0].Payload))
	assert.Equal(t, "b", string(tail[1].Payload))

	empty, err := sb.StreamTail(ctx, "stream:none", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
