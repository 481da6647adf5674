package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// Decoder turns one raw log into a marketplace event.
type Decoder interface {
	Decode(raw domain.RawLog) (domain.Event, error)
}

// EngineConfig holds the venue address and build tuning.
type EngineConfig struct {
	Venue       common.Address
	Range       domain.BlockRange
	Verify      bool
	Concurrency int // bound on parallel contract and block reads
}

// Engine rebuilds a Snapshot from the venue's log on every Build.
type Engine struct {
	cfg     EngineConfig
	logs    domain.LogSource
	blocks  domain.BlockResolver
	reader  domain.ListingReader
	decoder Decoder
	logger  *slog.Logger
	seq     atomic.Uint64
	now     func() time.Time
}

// NewEngine creates an Engine. blocks and reader may be nil, in which case
// timestamps stay unresolved and verification is skipped.
func NewEngine(
	cfg EngineConfig,
	logs domain.LogSource,
	blocks domain.BlockResolver,
	reader domain.ListingReader,
	decoder Decoder,
	logger *slog.Logger,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Engine{
		cfg:     cfg,
		logs:    logs,
		blocks:  blocks,
		reader:  reader,
		decoder: decoder,
		logger:  logger.With(slog.String("component", "market_engine")),
		now:     time.Now,
	}
}

// Snapshot is the result of one build.
type Snapshot struct {
	Seq        uint64
	BuiltAt    time.Time
	Listings   []domain.Listing // active on-chain listings, verified when enabled
	Known      map[uint64]bool
	Trades     []domain.Trade
	Anomalies  []domain.Anomaly
	Mismatches []domain.VerificationMismatch
	Events     int
	Skipped    int
}

// Build reads the full venue log and folds it. Only a transport failure or
// cancellation fails the build; malformed logs are skipped and counted.
func (e *Engine) Build(ctx context.Context) (*Snapshot, error) {
	seq := e.seq.Add(1)
	start := e.now()

	var (
		events  []domain.Event
		skipped int
	)
	for raw, err := range e.logs.Logs(ctx, e.cfg.Venue, e.cfg.Range) {
		if err != nil {
			return nil, fmt.Errorf("market: build %d: %w", seq, err)
		}
		ev, err := e.decoder.Decode(raw)
		if err != nil {
			skipped++
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrUnknownEvent) {
				level = slog.LevelDebug
			}
			e.logger.Log(ctx, level, "skipping log", slog.Uint64("seq", seq), slog.String("error", err.Error()))
			continue
		}
		events = append(events, ev)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proj := Replay(events)
	agg := Aggregate(events)

	var mismatches []domain.VerificationMismatch
	if e.cfg.Verify && e.reader != nil {
		var err error
		mismatches, err = e.verify(ctx, proj)
		if err != nil {
			return nil, err
		}
	}

	if e.blocks != nil {
		times, err := e.resolveTimes(ctx, agg.Trades())
		if err != nil {
			return nil, err
		}
		agg.SetTimestamps(times)
	}

	anomalies := proj.Anomalies()
	for _, m := range mismatches {
		anomalies = append(anomalies, domain.Anomaly{
			Kind:      domain.AnomalyMismatch,
			ListingID: m.ListingID,
			Detail:    m.Error(),
		})
	}

	snap := &Snapshot{
		Seq:        seq,
		BuiltAt:    e.now(),
		Listings:   proj.Active(),
		Known:      proj.Known(),
		Trades:     agg.Trades(),
		Anomalies:  anomalies,
		Mismatches: mismatches,
		Events:     len(events),
		Skipped:    skipped,
	}
	e.logger.InfoContext(ctx, "market snapshot built",
		slog.Uint64("seq", seq),
		slog.Int("events", snap.Events),
		slog.Int("skipped", skipped),
		slog.Int("active", len(snap.Listings)),
		slog.Int("trades", len(snap.Trades)),
		slog.Int("anomalies", len(anomalies)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return snap, nil
}

// verify re-reads every active listing from contract storage and lets the
// direct read win. Read errors keep the projected value.
func (e *Engine) verify(ctx context.Context, proj *Projection) ([]domain.VerificationMismatch, error) {
	active := proj.Active()
	direct := make([]*domain.ListingDetail, len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, l := range active {
		g.Go(func() error {
			d, err := e.reader.ListingDetail(gctx, e.cfg.Venue, l.ID)
			if err != nil {
				e.logger.WarnContext(gctx, "verification read failed",
					slog.Uint64("listing_id", l.ID), slog.String("error", err.Error()))
				return nil
			}
			direct[i] = &d
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.VerificationMismatch
	for i, l := range active {
		d := direct[i]
		if d == nil || *d == l.Detail() {
			continue
		}
		m := domain.VerificationMismatch{ListingID: l.ID, Projected: l.Detail(), Direct: *d}
		e.logger.WarnContext(ctx, "verification mismatch",
			slog.Uint64("listing_id", l.ID),
			slog.Uint64("projected_remaining", m.Projected.Remaining),
			slog.Uint64("direct_remaining", m.Direct.Remaining),
			slog.Uint64("projected_price6", m.Projected.Price6),
			slog.Uint64("direct_price6", m.Direct.Price6),
		)
		proj.Correct(l.ID, *d)
		out = append(out, m)
	}
	return out, nil
}

// resolveTimes looks up each distinct block once. Failures leave the block
// unresolved.
func (e *Engine) resolveTimes(ctx context.Context, trades []domain.Trade) (map[common.Hash]time.Time, error) {
	hashes := make([]common.Hash, 0, len(trades))
	seen := make(map[common.Hash]bool, len(trades))
	for _, t := range trades {
		if !seen[t.BlockHash] {
			seen[t.BlockHash] = true
			hashes = append(hashes, t.BlockHash)
		}
	}

	var mu sync.Mutex
	times := make(map[common.Hash]time.Time, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, h := range hashes {
		g.Go(func() error {
			ts, err := e.blocks.BlockTime(gctx, h)
			if err != nil {
				e.logger.DebugContext(gctx, "block time unresolved",
					slog.String("block_hash", h.Hex()), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			times[h] = ts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return times, nil
}

// ChainView returns the snapshot's side of a cache merge.
func (s *Snapshot) ChainView() ChainView {
	return ChainView{Listings: s.Listings, Known: s.Known}
}

// Tokens returns every token that has an active listing or a trade, in
// first-seen order.
func (s *Snapshot) Tokens() []common.Address {
	var out []common.Address
	seen := make(map[common.Address]bool)
	add := func(a common.Address) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, l := range s.Listings {
		add(l.Token)
	}
	for _, t := range s.Trades {
		add(t.Token)
	}
	return out
}

// MarketData derives the read model of one token. asks is the listing view to
// quote from, normally the merged view; nil means the snapshot's own listings.
func (s *Snapshot) MarketData(token common.Address, asks []domain.Listing) domain.MarketData {
	if asks == nil {
		asks = s.Listings
	}
	trades := TradesFor(s.Trades, token)
	book := BuildOrderBook(token, asks, s.Trades)

	md := domain.MarketData{
		Token:     token,
		OrderBook: book,
		Trades:    trades,
		Seq:       s.Seq,
		BuiltAt:   s.BuiltAt,
	}
	if p, ok := LastPrice(trades); ok {
		md.LastPrice6 = &p
	}
	if p, ok := BestAsk(book.Asks); ok {
		md.BestAsk6 = &p
	}
	return md
}

// Tracker holds the newest snapshot seen. Results of builds that started
// earlier than the current one are discarded.
type Tracker struct {
	mu     sync.RWMutex
	latest *Snapshot
}

// Offer stores snap if it is newer than the current one and reports whether
// it was kept.
func (t *Tracker) Offer(snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest != nil && snap.Seq <= t.latest.Seq {
		return false
	}
	t.latest = snap
	return true
}

// Latest returns the newest snapshot or nil.
func (t *Tracker) Latest() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}
