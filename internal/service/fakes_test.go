package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/market"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	saleA  = common.HexToAddress("0x0000000000000000000000000000000000005a1e")
	saleB  = common.HexToAddress("0x0000000000000000000000000000000000005b1e")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// logBuffer collects log output from concurrent writers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error { return errors.New("webhook 502") }
func (failingSender) Name() string                               { return "webhook" }

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// scriptedBuilder returns its snapshots in order, then its error. Without
// an error the last snapshot is repeated.
type scriptedBuilder struct {
	mu    sync.Mutex
	snaps []*market.Snapshot
	err   error
	last  *market.Snapshot
	calls int
}

func (b *scriptedBuilder) Build(ctx context.Context) (*market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.snaps) == 0 {
		switch {
		case b.err != nil:
			return nil, b.err
		case b.last == nil:
			return nil, errors.New("no snapshot scripted")
		}
		return b.last, nil
	}
	b.last = b.snaps[0]
	b.snaps = b.snaps[1:]
	return b.last, nil
}

// builds reports how many times Build ran.
func (b *scriptedBuilder) builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func newMemBus() *memBus { return &memBus{published: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamTail(_ context.Context, _ string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for i := len(b.stream) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, domain.StreamMessage{Payload: b.stream[i]})
	}
	return out, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditEntry, len(a.events))
	for i, e := range a.events {
		out[i] = domain.AuditEntry{ID: int64(i + 1), Event: e}
	}
	return out, nil
}

type memPrices struct {
	mu     sync.Mutex
	prices map[string]uint64
}

func (p *memPrices) SetLastPrice(_ context.Context, token string, price6 uint64, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prices == nil {
		p.prices = make(map[string]uint64)
	}
	p.prices[token] = price6
	return nil
}

func (p *memPrices) GetLastPrice(_ context.Context, token string) (uint64, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[token]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v, time.Time{}, nil
}

func (p *memPrices) GetLastPrices(_ context.Context, tokens []string) (map[string]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]uint64)
	for _, t := range tokens {
		if v, ok := p.prices[t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

type fixedArchive struct {
	snap domain.MarketSnapshot
	err  error
}

func (a fixedArchive) Export(context.Context, domain.MarketSnapshot) (string, error) { return "", nil }

func (a fixedArchive) Latest(context.Context) (domain.MarketSnapshot, error) { return a.snap, a.err }

type names map[common.Address]string

func (n names) NameFor(token common.Address) string { return n[token] }

// logSource serves fixed logs per address; addresses in fail yield a
// transport error.
type logSource struct {
	logs map[common.Address][]domain.RawLog
	fail map[common.Address]bool
}

func (s logSource) Logs(_ context.Context, addr common.Address, _ domain.BlockRange) iter.Seq2[domain.RawLog, error] {
	return func(yield func(domain.RawLog, error) bool) {
		if s.fail[addr] {
			yield(domain.RawLog{}, &domain.TransportError{Op: "logs", Err: io.ErrUnexpectedEOF})
			return
		}
		for _, l := range s.logs[addr] {
			if !yield(l, nil) {
				return
			}
		}
	}
}

// countingLogs counts Logs calls on the wrapped source.
type countingLogs struct {
	domain.LogSource
	calls atomic.Int32
}

func (c *countingLogs) Logs(ctx context.Context, addr common.Address, r domain.BlockRange) iter.Seq2[domain.RawLog, error] {
	c.calls.Add(1)
	return c.LogSource.Logs(ctx, addr, r)
}

// catalogDecoder maps a log's LogIndex to a catalog entry.
type catalogDecoder map[uint]domain.CatalogItem

func (d catalogDecoder) Decode(raw domain.RawLog) (domain.CatalogItem, error) {
	it, ok := d[raw.LogIndex]
	if !ok {
		return domain.CatalogItem{}, &domain.DecodeError{Reason: "unknown", Err: domain.ErrUnknownEvent}
	}
	return it, nil
}

// saleDecoder maps a log's LogIndex to an activity on the log's address.
type saleDecoder map[uint]domain.SaleActivity

func (d saleDecoder) Decode(raw domain.RawLog) (domain.SaleActivity, error) {
	a, ok := d[raw.LogIndex]
	if !ok {
		return domain.SaleActivity{}, &domain.DecodeError{Reason: "unknown", Err: domain.ErrUnknownEvent}
	}
	a.Sale = raw.Address
	a.LogPosition = raw.Position()
	return a, nil
}

type staticCatalog []domain.CatalogItem

func (c staticCatalog) List(context.Context) ([]domain.CatalogItem, error) { return c, nil }

type fakeChain struct {
	balances map[common.Address]*big.Int // by token
	vaultBal *big.Int
	fee      uint64
	times    map[common.Hash]time.Time
}

func (f fakeChain) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	if b, ok := f.balances[token]; ok {
		return b, nil
	}
	return nil, &domain.TransportError{Op: "balanceOf", Err: io.EOF}
}

func (f fakeChain) Decimals(context.Context, common.Address) (uint8, error) { return 18, nil }

func (f fakeChain) VaultBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.vaultBal, nil
}

func (f fakeChain) FeeBps(context.Context, common.Address) (uint64, error) { return f.fee, nil }

func (f fakeChain) BlockTime(_ context.Context, h common.Hash) (time.Time, error) {
	if ts, ok := f.times[h]; ok {
		return ts, nil
	}
	return time.Time{}, domain.ErrNotFound
}

func addrPtr(a common.Address) *common.Address { return &a }
