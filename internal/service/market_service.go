package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/market"
	"github.com/alanyoungcy/rwamarket/internal/notify"
)

// Builder rebuilds the chain side of the read model.
type Builder interface {
	Build(ctx context.Context) (*market.Snapshot, error)
}

// Namer resolves display names by token.
type Namer interface {
	NameFor(token common.Address) string
}

// MarketConfig tunes the market service.
type MarketConfig struct {
	PendingTTL    time.Duration // zero keeps pending entries forever
	MaxAge        time.Duration // snapshots older than this are rebuilt on read
	CacheTimeout  time.Duration // bound on detached side effects
	AnomalyStream int           // entries returned by Anomalies
}

// MarketDeps are the optional collaborators of a MarketService. Any of them
// may be nil.
type MarketDeps struct {
	KV       domain.KVStore
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Archive  domain.SnapshotArchiver
	Notifier *notify.Notifier
	Names    Namer
}

// ListingsView is the merged listing set served to clients.
type ListingsView struct {
	Listings []domain.Listing `json:"listings"`
	Seq      uint64           `json:"seq"`
	Degraded bool             `json:"degraded,omitempty"`
}

// Status summarises the latest build.
type Status struct {
	Seq       uint64    `json:"seq"`
	BuiltAt   time.Time `json:"builtAt,omitzero"`
	Events    int       `json:"events"`
	Skipped   int       `json:"skipped"`
	Active    int       `json:"active"`
	Trades    int       `json:"trades"`
	Anomalies int       `json:"anomalies"`
	Degraded  bool      `json:"degraded"`
	LastError string    `json:"lastError,omitempty"`
}

// MarketService serves listings and market data. It merges the latest chain
// snapshot with the optimistic cache and falls back to the last known view
// when the ledger is unreachable.
type MarketService struct {
	cfg     MarketConfig
	engine  Builder
	deps    MarketDeps
	tracker market.Tracker
	builds  singleflight.Group
	bg      *detached
	logger  *slog.Logger
	now     func() time.Time

	pendingMu sync.Mutex
	degraded  atomic.Bool
	lastErr   atomic.Pointer[string]
}

// NewMarketService creates a MarketService.
func NewMarketService(cfg MarketConfig, engine Builder, deps MarketDeps, logger *slog.Logger) *MarketService {
	if cfg.AnomalyStream <= 0 {
		cfg.AnomalyStream = 100
	}
	logger = logger.With(slog.String("component", "market_service"))
	return &MarketService{
		cfg:    cfg,
		engine: engine,
		deps:   deps,
		bg:     newDetached(cfg.CacheTimeout, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Refresh runs one build. A build that finishes after a newer one is
// discarded and the newer snapshot is returned. On success the merged view,
// per-token market data and last prices are written behind and published.
func (s *MarketService) Refresh(ctx context.Context) (*market.Snapshot, error) {
	snap, err := s.engine.Build(ctx)
	if err != nil {
		s.markDegraded(ctx, err)
		return nil, fmt.Errorf("market_service: refresh: %w", err)
	}
	if !s.tracker.Offer(snap) {
		s.logger.DebugContext(ctx, "market_service: stale build discarded", slog.Uint64("seq", snap.Seq))
		return s.tracker.Latest(), nil
	}
	s.markRecovered(ctx)

	merged := s.merge(ctx, snap)
	s.writeListings(ctx, snap)
	for _, token := range snap.Tokens() {
		md := s.marketData(snap, token, merged)
		s.bg.writeJSON(ctx, s.deps.KV, domain.CacheKeyMarketDataPfx+token.Hex(), md)
		s.publish(ctx, md)
	}
	s.report(ctx, snap)
	return snap, nil
}

// Snapshot returns the latest snapshot, rebuilding it when none exists or it
// is older than MaxAge. Concurrent callers share one rebuild. When a rebuild
// fails the previous snapshot is served; Refresh has already recorded the
// degradation.
func (s *MarketService) Snapshot(ctx context.Context) (*market.Snapshot, error) {
	latest := s.tracker.Latest()
	if latest != nil && s.now().Sub(latest.BuiltAt) <= s.cfg.MaxAge {
		return latest, nil
	}
	v, err, _ := s.builds.Do("snapshot", func() (any, error) {
		return s.Refresh(ctx)
	})
	if err != nil {
		if latest != nil && ctx.Err() == nil {
			return latest, nil
		}
		return nil, err
	}
	return v.(*market.Snapshot), nil
}

// Listings returns the merged listing view, optionally for one token. When
// no snapshot can be built the cached listings are served, flagged degraded.
func (s *MarketService) Listings(ctx context.Context, token *common.Address) (ListingsView, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		if !errors.As(err, new(*domain.TransportError)) {
			return ListingsView{}, err
		}
		view := ListingsView{Listings: s.cachedOnly(ctx), Degraded: true}
		if token != nil {
			view.Listings = market.FilterToken(view.Listings, *token)
		}
		return view, nil
	}

	merged := s.merge(ctx, snap)
	if token != nil {
		merged = market.FilterToken(merged, *token)
	}
	return ListingsView{Listings: merged, Seq: snap.Seq, Degraded: s.degraded.Load()}, nil
}

// MarketData returns the read model of one token. Without a snapshot it
// serves the cached market_data entry, then the latest exported snapshot.
func (s *MarketService) MarketData(ctx context.Context, token common.Address) (domain.MarketData, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		if !errors.As(err, new(*domain.TransportError)) {
			return domain.MarketData{}, err
		}
		return s.lastKnown(ctx, token, err)
	}
	md := s.marketData(snap, token, s.merge(ctx, snap))
	md.Degraded = s.degraded.Load()
	return md, nil
}

// Chart returns the chart points of one token inside w.
func (s *MarketService) Chart(ctx context.Context, token common.Address, w market.Window) ([]domain.ChartPoint, error) {
	md, err := s.MarketData(ctx, token)
	if err != nil {
		return nil, err
	}
	return market.ChartPoints(md.Trades, w, s.now()), nil
}

// AddPending stores a just-submitted listing in the cache so it shows up
// before the chain confirms it.
func (s *MarketService) AddPending(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	if l.Remaining == 0 || l.Price6 == 0 || l.Token == (common.Address{}) {
		return domain.Listing{}, fmt.Errorf("market_service: add pending: %w", domain.ErrInvalidListing)
	}
	if s.deps.KV == nil {
		return domain.Listing{}, fmt.Errorf("market_service: add pending: no cache configured")
	}
	l.Status = domain.ListingPending
	l.CreatedAt = s.now().UTC()

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	cached := s.cachedListings(ctx)
	out := make([]domain.Listing, 0, len(cached)+1)
	for _, c := range cached {
		if c.ID != l.ID {
			out = append(out, c)
		}
	}
	out = append(out, l)
	if err := setJSON(ctx, s.deps.KV, domain.CacheKeyListings, out); err != nil {
		return domain.Listing{}, fmt.Errorf("market_service: add pending: %w", err)
	}
	s.logger.InfoContext(ctx, "market_service: pending listing stored",
		slog.Uint64("listing_id", l.ID),
		slog.String("token", l.Token.Hex()),
	)
	return l, nil
}

// Anomalies returns the most recent anomalies, newest first. The durable
// stream is preferred; the latest snapshot is used when it is unavailable.
func (s *MarketService) Anomalies(ctx context.Context) []domain.Anomaly {
	if s.deps.Bus != nil {
		msgs, err := s.deps.Bus.StreamTail(ctx, domain.StreamAnomalies, s.cfg.AnomalyStream)
		if err == nil {
			out := make([]domain.Anomaly, 0, len(msgs))
			for _, m := range msgs {
				var a domain.Anomaly
				if json.Unmarshal(m.Payload, &a) == nil {
					out = append(out, a)
				}
			}
			return out
		}
		s.logger.WarnContext(ctx, "market_service: anomaly stream unavailable", slog.String("error", err.Error()))
	}
	snap := s.tracker.Latest()
	if snap == nil {
		return []domain.Anomaly{}
	}
	out := make([]domain.Anomaly, 0, len(snap.Anomalies))
	for i := len(snap.Anomalies) - 1; i >= 0 && len(out) < s.cfg.AnomalyStream; i-- {
		out = append(out, snap.Anomalies[i])
	}
	return out
}

// History lists audit entries.
func (s *MarketService) History(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.deps.Audit == nil {
		return []domain.AuditEntry{}, nil
	}
	entries, err := s.deps.Audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: history: %w", err)
	}
	return entries, nil
}

// Status describes the latest build.
func (s *MarketService) Status() Status {
	st := Status{Degraded: s.degraded.Load()}
	if p := s.lastErr.Load(); p != nil {
		st.LastError = *p
	}
	if snap := s.tracker.Latest(); snap != nil {
		st.Seq = snap.Seq
		st.BuiltAt = snap.BuiltAt
		st.Events = snap.Events
		st.Skipped = snap.Skipped
		st.Active = len(snap.Listings)
		st.Trades = len(snap.Trades)
		st.Anomalies = len(snap.Anomalies)
	}
	return st
}

// Export converts the latest snapshot into its archived form.
func (s *MarketService) Export(ctx context.Context) (domain.MarketSnapshot, error) {
	snap := s.tracker.Latest()
	if snap == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: export: %w", domain.ErrNotFound)
	}
	merged := s.merge(ctx, snap)
	out := domain.MarketSnapshot{
		Seq:      snap.Seq,
		BuiltAt:  snap.BuiltAt,
		Listings: merged,
		Markets:  make(map[string]domain.MarketData),
	}
	for _, token := range snap.Tokens() {
		out.Markets[token.Hex()] = s.marketData(snap, token, merged)
	}
	return out, nil
}

// Wait blocks until background side effects have finished.
func (s *MarketService) Wait() { s.bg.Wait() }

// merge reconciles snap with the cached listings and attaches names.
func (s *MarketService) merge(ctx context.Context, snap *market.Snapshot) []domain.Listing {
	merged := market.Merge(snap.ChainView(), s.cachedListings(ctx))
	for i := range merged {
		merged[i].Name = s.nameFor(merged[i].Token, merged[i].Name)
	}
	return merged
}

func (s *MarketService) marketData(snap *market.Snapshot, token common.Address, merged []domain.Listing) domain.MarketData {
	md := snap.MarketData(token, market.FilterToken(merged, token))
	md.Name = s.nameFor(token, "")
	return md
}

// nameFor prefers the catalog, then fallback, then the default name.
func (s *MarketService) nameFor(token common.Address, fallback string) string {
	if s.deps.Names != nil {
		if n := s.deps.Names.NameFor(token); n != "" {
			return n
		}
	}
	if fallback != "" {
		return fallback
	}
	return domain.DefaultListingName
}

// cachedListings reads the optimistic cache and drops expired pending
// entries. A broken entry reads as empty.
func (s *MarketService) cachedListings(ctx context.Context) []domain.Listing {
	cached, err := readJSON[[]domain.Listing](ctx, s.deps.KV, domain.CacheKeyListings)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: cached listings ignored", slog.String("error", err.Error()))
		}
		return nil
	}
	return market.DropExpired(cached, s.now(), s.cfg.PendingTTL)
}

// writeListings stores the reconciled view in the cache. The merge is redone
// under pendingMu so a pending listing added meanwhile is not lost.
func (s *MarketService) writeListings(ctx context.Context, snap *market.Snapshot) {
	if s.deps.KV == nil {
		return
	}
	s.bg.Go(ctx, "cache "+domain.CacheKeyListings, func(ctx context.Context) error {
		s.pendingMu.Lock()
		defer s.pendingMu.Unlock()
		return setJSON(ctx, s.deps.KV, domain.CacheKeyListings, s.merge(ctx, snap))
	})
}

// cachedOnly is the listing view when the chain is unreachable: every
// unexpired cache entry that still has units.
func (s *MarketService) cachedOnly(ctx context.Context) []domain.Listing {
	out := make([]domain.Listing, 0)
	for _, l := range s.cachedListings(ctx) {
		if !l.Active() {
			continue
		}
		l.Name = s.nameFor(l.Token, l.Name)
		out = append(out, l)
	}
	market.SortListings(out)
	return out
}

func (s *MarketService) lastKnown(ctx context.Context, token common.Address, cause error) (domain.MarketData, error) {
	md, err := readJSON[domain.MarketData](ctx, s.deps.KV, domain.CacheKeyMarketDataPfx+token.Hex())
	if err == nil {
		md.Degraded = true
		return md, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "market_service: cached market data ignored", slog.String("error", err.Error()))
	}

	if s.deps.Archive != nil {
		snap, aerr := s.deps.Archive.Latest(ctx)
		if aerr == nil {
			if md, ok := snap.Markets[token.Hex()]; ok {
				md.Degraded = true
				return md, nil
			}
		} else if !errors.Is(aerr, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: archived snapshot unavailable", slog.String("error", aerr.Error()))
		}
	}
	return domain.MarketData{}, cause
}

func (s *MarketService) publish(ctx context.Context, md domain.MarketData) {
	token := md.Token.Hex()
	if s.deps.Prices != nil && md.LastPrice6 != nil {
		var ts time.Time
		if len(md.Trades) > 0 {
			ts = latestTrade(md.Trades).Timestamp
		}
		price := *md.LastPrice6
		s.bg.Go(ctx, "last price "+token, func(ctx context.Context) error {
			return s.deps.Prices.SetLastPrice(ctx, token, price, ts)
		})
	}
	if s.deps.Bus != nil {
		payload, err := json.Marshal(md)
		if err != nil {
			return
		}
		s.bg.Go(ctx, "publish "+token, func(ctx context.Context) error {
			return s.deps.Bus.Publish(ctx, domain.ChannelMarketPfx+token, payload)
		})
	}
}

// report records anomalies of a new snapshot in the audit log and the
// anomaly stream, and alerts on each distinct one.
func (s *MarketService) report(ctx context.Context, snap *market.Snapshot) {
	if len(snap.Anomalies) == 0 {
		return
	}
	anomalies := snap.Anomalies
	s.bg.Go(ctx, "report anomalies", func(ctx context.Context) error {
		var errs []error
		for _, a := range anomalies {
			if s.deps.Audit != nil {
				err := s.deps.Audit.Log(ctx, "anomaly."+string(a.Kind), map[string]any{
					"seq":       snap.Seq,
					"listingId": a.ListingID,
					"event":     string(a.Event),
					"block":     a.Position.BlockNumber,
					"logIndex":  a.Position.LogIndex,
					"detail":    a.Detail,
				})
				if err != nil {
					errs = append(errs, err)
				}
			}
			if s.deps.Bus != nil {
				if payload, err := json.Marshal(a); err == nil {
					if err := s.deps.Bus.StreamAppend(ctx, domain.StreamAnomalies, payload); err != nil {
						errs = append(errs, err)
					}
				}
			}
			s.alert(ctx, a)
		}
		return errors.Join(errs...)
	})
}

func (s *MarketService) alert(ctx context.Context, a domain.Anomaly) {
	if !s.deps.Notifier.Enabled() {
		return
	}
	id := strconv.FormatUint(a.ListingID, 10)
	event, title := notify.EventAnomaly, fmt.Sprintf("Replay anomaly on listing %s", id)
	if a.Kind == domain.AnomalyMismatch {
		event, title = notify.EventMismatch, fmt.Sprintf("Listing %s disagrees with contract storage", id)
	}
	key := string(a.Kind) + ":" + id
	s.alertFailed(ctx, event, s.deps.Notifier.NotifyOnce(ctx, event, key, title, a.Detail))
}

func (s *MarketService) alertFailed(ctx context.Context, event string, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) markDegraded(ctx context.Context, err error) {
	msg := err.Error()
	s.lastErr.Store(&msg)
	if !errors.As(err, new(*domain.TransportError)) {
		return
	}
	if s.degraded.Swap(true) {
		return
	}
	s.logger.WarnContext(ctx, "market_service: ledger unreachable, serving cached data", slog.String("error", msg))
	if s.deps.Notifier.Enabled() {
		s.alertFailed(ctx, notify.EventDegraded,
			s.deps.Notifier.NotifyOnce(ctx, notify.EventDegraded, "ledger", "Market data degraded", msg))
	}
	s.publishStatus(ctx, true)
}

func (s *MarketService) markRecovered(ctx context.Context) {
	s.lastErr.Store(nil)
	if !s.degraded.Swap(false) {
		return
	}
	s.logger.InfoContext(ctx, "market_service: ledger reachable again")
	if s.deps.Notifier.Enabled() {
		s.alertFailed(ctx, notify.EventRecovered,
			s.deps.Notifier.Notify(ctx, notify.EventRecovered, "Market data recovered", "ledger reads succeed again"))
	}
	s.publishStatus(ctx, false)
}

func (s *MarketService) publishStatus(ctx context.Context, degraded bool) {
	if s.deps.Bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{"degraded": degraded, "at": s.now().UTC()})
	s.bg.Go(ctx, "publish status", func(ctx context.Context) error {
		return s.deps.Bus.Publish(ctx, domain.ChannelStatus, payload)
	})
}

func latestTrade(trades []domain.Trade) domain.Trade {
	best := trades[0]
	for _, t := range trades[1:] {
		if t.After(best) {
			best = t
		}
	}
	return best
}
