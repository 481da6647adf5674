// Package evm is the JSON-RPC transport to the ledger: ordered log reads,
// block headers and view calls against the venue's contracts, with endpoint
// fallback and bounded retries.
package evm

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// backend is the subset of *ethclient.Client the transport uses.
type backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Config controls endpoints and retry behaviour.
type Config struct {
	URLs        []string      // primary first, then fallbacks
	MaxRetries  int           // full passes over all endpoints after the first
	RetryDelay  time.Duration // base delay, doubled per pass
	CallTimeout time.Duration // per request; zero means none
	ChunkSize   uint64        // max blocks per eth_getLogs; zero means one query
}

type endpoint struct {
	url string
	b   backend
}

// Client reads the ledger over JSON-RPC. It is safe for concurrent use.
type Client struct {
	cfg       Config
	endpoints []endpoint
	logger    *slog.Logger

	mu     sync.RWMutex
	blocks map[common.Hash]time.Time
}

// Dial connects to every configured URL. Endpoints that fail to dial are
// skipped; at least one must succeed.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	logger = logger.With(slog.String("component", "evm"))
	var eps []endpoint
	for _, u := range cfg.URLs {
		ec, err := ethclient.DialContext(ctx, u)
		if err != nil {
			logger.WarnContext(ctx, "rpc dial failed", slog.String("url", redactURL(u)), slog.String("error", err.Error()))
			continue
		}
		eps = append(eps, endpoint{url: u, b: ec})
	}
	if len(eps) == 0 {
		return nil, &domain.TransportError{Op: "dial", Err: errors.New("no reachable rpc endpoint")}
	}
	return newClient(cfg, logger, eps...), nil
}

func newClient(cfg Config, logger *slog.Logger, eps ...endpoint) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	return &Client{
		cfg:       cfg,
		endpoints: eps,
		logger:    logger,
		blocks:    make(map[common.Hash]time.Time),
	}
}

// Close releases every endpoint connection.
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		ep.b.Close()
	}
}

// LatestBlock returns the head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return call(ctx, c, "eth_blockNumber", func(ctx context.Context, b backend) (uint64, error) {
		return b.BlockNumber(ctx)
	})
}

// BlockTime returns a block's timestamp. Results are memoised by hash.
func (c *Client) BlockTime(ctx context.Context, hash common.Hash) (time.Time, error) {
	c.mu.RLock()
	ts, ok := c.blocks[hash]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	h, err := call(ctx, c, "eth_getBlockByHash", func(ctx context.Context, b backend) (*types.Header, error) {
		return b.HeaderByHash(ctx, hash)
	})
	if err != nil {
		return time.Time{}, err
	}
	ts = time.Unix(int64(h.Time), 0).UTC()

	c.mu.Lock()
	c.blocks[hash] = ts
	c.mu.Unlock()
	return ts, nil
}

// call runs fn against each endpoint in order, repeating the pass up to
// MaxRetries more times with doubling backoff. The last error is returned
// wrapped in a *domain.TransportError.
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context, backend) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	delay := c.cfg.RetryDelay
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		for _, ep := range c.endpoints {
			v, err := tryEndpoint(ctx, c.cfg.CallTimeout, ep, fn)
			if err == nil {
				return v, nil
			}
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastErr = err
			c.logger.DebugContext(ctx, "rpc call failed",
				slog.String("op", op),
				slog.String("url", redactURL(ep.url)),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return zero, &domain.TransportError{Op: op, Err: lastErr}
}

func tryEndpoint[T any](ctx context.Context, timeout time.Duration, ep endpoint, fn func(context.Context, backend) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, ep.b)
}

// redactURL keeps scheme and host only.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return raw
	}
	return u.Scheme + "://" + u.Host + "/***"
}
