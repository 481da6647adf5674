package market

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

var venue = common.HexToAddress("0x000000000000000000000000000000000000feed")

// fakeSource yields one raw log per scripted event; LogIndex addresses the
// event in fakeDecoder.
type fakeSource struct {
	n   int
	err error
}

func (f fakeSource) Logs(_ context.Context, _ common.Address, _ domain.BlockRange) iter.Seq2[domain.RawLog, error] {
	return func(yield func(domain.RawLog, error) bool) {
		for i := range f.n {
			if !yield(domain.RawLog{BlockNumber: uint64(i + 1), LogIndex: uint(i)}, nil) {
				return
			}
		}
		if f.err != nil {
			yield(domain.RawLog{}, f.err)
		}
	}
}

type fakeDecoder []domain.Event

func (d fakeDecoder) Decode(raw domain.RawLog) (domain.Event, error) {
	ev := d[raw.LogIndex]
	if ev == nil {
		return nil, &domain.DecodeError{BlockNumber: raw.BlockNumber, Reason: "unknown signature", Err: domain.ErrUnknownEvent}
	}
	return ev, nil
}

type fakeReader map[uint64]domain.ListingDetail

func (r fakeReader) ListingDetail(_ context.Context, _ common.Address, id uint64) (domain.ListingDetail, error) {
	d, ok := r[id]
	if !ok {
		return domain.ListingDetail{}, &domain.TransportError{Op: "listings", Err: errors.New("boom")}
	}
	return d, nil
}

type fakeBlocks struct {
	calls atomic.Int32
	fail  common.Hash
}

func (b *fakeBlocks) BlockTime(_ context.Context, h common.Hash) (time.Time, error) {
	b.calls.Add(1)
	if h == b.fail {
		return time.Time{}, errors.New("header not found")
	}
	return time.Unix(int64(h.Big().Uint64())*12, 0).UTC(), nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEngine_Build(t *testing.T) {
	events := fakeDecoder{
		listed(1, 1, 10, 2_500_000),
		nil,
		purchased(3, 1, 3, 7_500_000),
		listedFor(4, 2, tokenB, 2, 1_000_000),
		purchased(5, 1, 1, 2_500_000),
		purchased(5, 2, 1, 1_000_000),
	}
	blocks := &fakeBlocks{fail: at(5).BlockHash}
	e := NewEngine(EngineConfig{Venue: venue}, fakeSource{n: len(events)}, blocks, nil, events, discard())

	snap, err := e.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 5, snap.Events)
	assert.Equal(t, 1, snap.Skipped)
	require.Len(t, snap.Listings, 2)
	require.Len(t, snap.Trades, 3)
	assert.Equal(t, int32(2), blocks.calls.Load(), "one lookup per distinct block")
	assert.True(t, snap.Trades[0].HasTimestamp())
	assert.False(t, snap.Trades[1].HasTimestamp())

	md := snap.MarketData(tokenA, nil)
	require.NotNil(t, md.LastPrice6)
	assert.Equal(t, uint64(2_500_000), *md.LastPrice6)
	require.NotNil(t, md.BestAsk6)
	assert.Equal(t, uint64(2_500_000), *md.BestAsk6)
	require.Len(t, md.OrderBook.Asks, 1)
	assert.Equal(t, uint64(6), md.OrderBook.Asks[0].Remaining)
	assert.Len(t, md.Trades, 2)

	assert.ElementsMatch(t, []common.Address{tokenA, tokenB}, snap.Tokens())

	snap2, err := e.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap2.Seq)
}

func TestEngine_Empty(t *testing.T) {
	e := NewEngine(EngineConfig{Venue: venue}, fakeSource{}, nil, nil, fakeDecoder{}, discard())
	snap, err := e.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Listings)
	assert.Empty(t, snap.Trades)

	md := snap.MarketData(tokenA, nil)
	assert.Nil(t, md.LastPrice6)
	assert.Nil(t, md.BestAsk6)
}

func TestEngine_TransportFailure(t *testing.T) {
	boom := &domain.TransportError{Op: "eth_getLogs", Err: errors.New("connection refused")}
	e := NewEngine(EngineConfig{Venue: venue}, fakeSource{n: 1, err: boom}, nil, nil, fakeDecoder{listed(1, 1, 1, 1)}, discard())

	snap, err := e.Build(context.Background())
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(EngineConfig{Venue: venue}, fakeSource{}, nil, nil, fakeDecoder{}, discard())
	_, err := e.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Verify(t *testing.T) {
	events := fakeDecoder{
		listed(1, 1, 10, 1_000_000),
		listed(2, 2, 5, 2_000_000),
		listed(3, 3, 5, 3_000_000),
		listed(4, 4, 5, 4_000_000),
	}
	reader := fakeReader{
		1: {Seller: alice, Token: tokenA, Remaining: 10, Price6: 1_000_000}, // agrees
		2: {Seller: alice, Token: tokenA, Remaining: 0, Price6: 2_000_000},  // sold out off-log
		3: {Seller: alice, Token: tokenA, Remaining: 2, Price6: 3_000_000},
		// 4 fails to read and keeps its projection
	}
	e := NewEngine(EngineConfig{Venue: venue, Verify: true, Concurrency: 2},
		fakeSource{n: len(events)}, nil, reader, events, discard())

	snap, err := e.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Mismatches, 2)
	assert.Equal(t, uint64(2), snap.Mismatches[0].ListingID)
	assert.Equal(t, uint64(3), snap.Mismatches[1].ListingID)
	assert.ErrorIs(t, &snap.Mismatches[0], domain.ErrVerificationMismatch)

	remaining := map[uint64]uint64{}
	for _, l := range snap.Listings {
		remaining[l.ID] = l.Remaining
	}
	assert.Equal(t, map[uint64]uint64{1: 10, 3: 2, 4: 5}, remaining)

	var flagged int
	for _, a := range snap.Anomalies {
		if a.Kind == domain.AnomalyMismatch {
			flagged++
		}
	}
	assert.Equal(t, 2, flagged)
}

func TestTracker_DiscardsStale(t *testing.T) {
	var tr Tracker
	assert.Nil(t, tr.Latest())
	assert.True(t, tr.Offer(&Snapshot{Seq: 2}))
	assert.False(t, tr.Offer(&Snapshot{Seq: 1}))
	assert.False(t, tr.Offer(&Snapshot{Seq: 2}))
	assert.False(t, tr.Offer(nil))
	assert.True(t, tr.Offer(&Snapshot{Seq: 3}))
	assert.Equal(t, uint64(3), tr.Latest().Seq)
}
