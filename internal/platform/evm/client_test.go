package evm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/ledger"
)

type fakeBackend struct {
	mu      sync.Mutex
	logs    []types.Log
	head    uint64
	fail    int // remaining calls to fail
	queries []ethereum.FilterQuery
	headers map[common.Hash]*types.Header
	calls   map[string][]byte // keyed by 4-byte selector
	hdrHits int
}

var errDown = errors.New("connection refused")

func (f *fakeBackend) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return true
	}
	return false
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if f.failing() {
		return nil, errDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeBackend) HeaderByHash(_ context.Context, h common.Hash) (*types.Header, error) {
	if f.failing() {
		return nil, errDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hdrHits++
	hdr, ok := f.headers[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return hdr, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.failing() {
		return nil, errDown
	}
	out, ok := f.calls[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	if f.failing() {
		return 0, errDown
	}
	return f.head, nil
}

func (f *fakeBackend) Close() {}

func testClient(cfg Config, backends ...*fakeBackend) *Client {
	eps := make([]endpoint, len(backends))
	for i, b := range backends {
		eps[i] = endpoint{url: "http://node", b: b}
	}
	cfg.RetryDelay = time.Millisecond
	return newClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), eps...)
}

func collect(t *testing.T, c *Client, rng domain.BlockRange) ([]domain.RawLog, error) {
	t.Helper()
	var out []domain.RawLog
	for l, err := range c.Logs(context.Background(), common.Address{}, rng) {
		if err != nil {
			return out, err
		}
		out = append(out, l)
	}
	return out, nil
}

func TestLogs_SortedSingleQuery(t *testing.T) {
	b := &fakeBackend{logs: []types.Log{
		{BlockNumber: 5, Index: 1},
		{BlockNumber: 2, Index: 9},
		{BlockNumber: 5, Index: 0},
	}}
	got, err := collect(t, testClient(Config{}, b), domain.BlockRange{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(2), got[0].BlockNumber)
	assert.Equal(t, uint(0), got[1].LogIndex)
	assert.Equal(t, uint(1), got[2].LogIndex)
	require.Len(t, b.queries, 1)
	assert.Nil(t, b.queries[0].ToBlock)
}

func TestLogs_Chunked(t *testing.T) {
	b := &fakeBackend{head: 25, logs: []types.Log{
		{BlockNumber: 3}, {BlockNumber: 12}, {BlockNumber: 25},
	}}
	from := uint64(1)
	got, err := collect(t, testClient(Config{ChunkSize: 10}, b), domain.BlockRange{From: &from})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	require.Len(t, b.queries, 3)
	assert.Equal(t, uint64(1), b.queries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(10), b.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(21), b.queries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(25), b.queries[2].ToBlock.Uint64())
}

func TestLogs_FallbackAndRetry(t *testing.T) {
	primary := &fakeBackend{fail: 100}
	fallback := &fakeBackend{fail: 1, logs: []types.Log{{BlockNumber: 1}}}

	got, err := collect(t, testClient(Config{MaxRetries: 1}, primary, fallback), domain.BlockRange{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLogs_TransportError(t *testing.T) {
	b := &fakeBackend{fail: 100}
	_, err := collect(t, testClient(Config{MaxRetries: 2}, b), domain.BlockRange{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, errDown)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "eth_getLogs", te.Op)
	assert.Equal(t, 97, b.fail, "three attempts")
}

func TestBlockTime_Memoised(t *testing.T) {
	h := common.HexToHash("0xabc")
	b := &fakeBackend{headers: map[common.Hash]*types.Header{h: {Time: 1_700_000_000}}}
	c := testClient(Config{}, b)

	for range 3 {
		ts, err := c.BlockTime(context.Background(), h)
		require.NoError(t, err)
		assert.Equal(t, int64(1_700_000_000), ts.Unix())
	}
	assert.Equal(t, 1, b.hdrHits)

	_, err := c.BlockTime(context.Background(), common.HexToHash("0xdef"))
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestContractReads(t *testing.T) {
	seller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")

	listing, err := ledger.Marketplace.Methods["listings"].Outputs.Pack(seller, token, big.NewInt(3), big.NewInt(900_000))
	require.NoError(t, err)
	balance, err := ledger.ERC20.Methods["balanceOf"].Outputs.Pack(big.NewInt(12))
	require.NoError(t, err)
	fee, err := ledger.Vault.Methods["feeBps"].Outputs.Pack(big.NewInt(150))
	require.NoError(t, err)

	b := &fakeBackend{calls: map[string][]byte{
		string(ledger.Marketplace.Methods["listings"].ID): listing,
		string(ledger.ERC20.Methods["balanceOf"].ID):      balance,
		string(ledger.Vault.Methods["feeBps"].ID):         fee,
	}}
	c := testClient(Config{}, b)
	ctx := context.Background()

	d, err := c.ListingDetail(ctx, common.Address{}, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingDetail{Seller: seller, Token: token, Remaining: 3, Price6: 900_000}, d)

	bal, err := c.VaultBalance(ctx, token, seller)
	require.NoError(t, err)
	assert.Equal(t, int64(12), bal.Int64())

	bps, err := c.FeeBps(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), bps)

	_, err = c.Decimals(ctx, token)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestCall_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &fakeBackend{fail: 100}
	_, err := testClient(Config{MaxRetries: 5}, b).LatestBlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedactURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://rpc.example", "https://rpc.example"},
		{"https://a.io/v2/KEY", "https://a.io/***"},
		{"https://a.io?key=K", "https://a.io/***"},
		{"https://user:pw@a.io", "https://a.io/***"},
		{"wss://eth.llamarpc.com/sk_live_0123456789abcdef", "wss://eth.llamarpc.com/***"},
		{"not a url", "***"},
	}
	for _, tt := range tests {
		got := redactURL(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.NotContains(t, got, "KEY")
	}
}
