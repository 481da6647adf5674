package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// CatalogDecoder turns a factory log into a catalog entry.
type CatalogDecoder interface {
	Decode(raw domain.RawLog) (domain.CatalogItem, error)
}

// CatalogConfig locates the property factory.
type CatalogConfig struct {
	Factory common.Address
	Range   domain.BlockRange
	MaxAge  time.Duration // List reloads a catalog older than this
}

// CatalogService keeps the display catalog of tokenized properties. The
// factory log is the list of record; the cache contributes operator-edited
// display fields.
type CatalogService struct {
	cfg     CatalogConfig
	logs    domain.LogSource
	decoder CatalogDecoder
	kv      domain.KVStore
	bg      *detached
	logger  *slog.Logger
	now     func() time.Time
	loads   singleflight.Group

	writeMu  sync.Mutex
	mu       sync.RWMutex
	items    []domain.CatalogItem
	byToken  map[common.Address]string
	loaded   bool
	loadedAt time.Time
}

// NewCatalogService creates a CatalogService. kv may be nil.
func NewCatalogService(
	cfg CatalogConfig,
	logs domain.LogSource,
	decoder CatalogDecoder,
	kv domain.KVStore,
	logger *slog.Logger,
) *CatalogService {
	logger = logger.With(slog.String("component", "catalog_service"))
	return &CatalogService{
		cfg:     cfg,
		logs:    logs,
		decoder: decoder,
		kv:      kv,
		bg:      newDetached(0, logger),
		logger:  logger,
		now:     time.Now,
		byToken: make(map[common.Address]string),
	}
}

// Refresh replays the factory log, merges it with the cached catalog and
// writes the result back. If the ledger is unreachable the cached catalog is
// served instead and the error is returned alongside it.
func (s *CatalogService) Refresh(ctx context.Context) ([]domain.CatalogItem, error) {
	cached := s.cached(ctx)

	var onChain []domain.CatalogItem
	for raw, err := range s.logs.Logs(ctx, s.cfg.Factory, s.cfg.Range) {
		if err != nil {
			s.logger.WarnContext(ctx, "catalog_service: factory log read failed, serving cache",
				slog.String("error", err.Error()),
			)
			if len(cached) > 0 {
				s.store(cached)
			}
			return cached, fmt.Errorf("catalog_service: refresh: %w", err)
		}
		item, err := s.decoder.Decode(raw)
		if err != nil {
			if !errors.Is(err, domain.ErrUnknownEvent) {
				s.logger.WarnContext(ctx, "catalog_service: skipping log", slog.String("error", err.Error()))
			}
			continue
		}
		onChain = append(onChain, item)
	}

	items := mergeCatalog(onChain, cached)
	s.store(items)
	if s.kv != nil {
		s.bg.Go(ctx, "cache "+domain.CacheKeyCatalog, s.persist)
	}

	s.logger.InfoContext(ctx, "catalog_service: catalog refreshed",
		slog.Int("on_chain", len(onChain)),
		slog.Int("items", len(items)),
	)
	return items, nil
}

// List returns the current catalog, reloading it when it is older than
// MaxAge. Concurrent callers share one reload; if it fails the previous
// catalog is served.
func (s *CatalogService) List(ctx context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	loaded := s.loaded
	fresh := loaded && s.now().Sub(s.loadedAt) <= s.cfg.MaxAge
	items := slices.Clone(s.items)
	s.mu.RUnlock()
	if fresh {
		return items, nil
	}
	v, err, _ := s.loads.Do("catalog", func() (any, error) {
		return s.Refresh(ctx)
	})
	reloaded, _ := v.([]domain.CatalogItem)
	if err != nil && len(reloaded) == 0 {
		if loaded && ctx.Err() == nil {
			return items, nil
		}
		return nil, err
	}
	return slices.Clone(reloaded), nil
}

// Upsert edits the display fields of the property sold by sale. Empty fields
// leave the current value.
func (s *CatalogService) Upsert(ctx context.Context, sale common.Address, meta domain.CatalogMetadata) (domain.CatalogItem, error) {
	if _, err := s.List(ctx); err != nil {
		return domain.CatalogItem{}, err
	}

	s.mu.Lock()
	idx := -1
	for i, it := range s.items {
		if it.Sale != nil && *it.Sale == sale {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return domain.CatalogItem{}, fmt.Errorf("catalog_service: sale %s: %w", sale.Hex(), domain.ErrNotFound)
	}
	it := &s.items[idx]
	overlay(&it.Name, meta.Name)
	overlay(&it.Symbol, meta.Symbol)
	overlay(&it.Image, meta.Image)
	overlay(&it.Location, meta.Location)
	overlay(&it.TotalPrice, meta.TotalPrice)
	updated := *it
	s.index()
	s.mu.Unlock()

	if s.kv != nil {
		if err := s.persist(ctx); err != nil {
			return domain.CatalogItem{}, fmt.Errorf("catalog_service: upsert: %w", err)
		}
	}
	return updated, nil
}

// NameFor returns the property name for token, or "" if the catalog does
// not know it.
func (s *CatalogService) NameFor(token common.Address) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byToken[token]
}

// Wait blocks until background cache writes have finished.
func (s *CatalogService) Wait() { s.bg.Wait() }

func (s *CatalogService) cached(ctx context.Context) []domain.CatalogItem {
	items, err := readJSON[[]domain.CatalogItem](ctx, s.kv, domain.CacheKeyCatalog)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "catalog_service: cached catalog ignored", slog.String("error", err.Error()))
	}
	return items
}

// persist writes the current catalog. Writes are serialised and each one
// reads the catalog at write time, so the last write is always the newest.
func (s *CatalogService) persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	items := slices.Clone(s.items)
	s.mu.RUnlock()
	return setJSON(ctx, s.kv, domain.CacheKeyCatalog, items)
}

func (s *CatalogService) store(items []domain.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = slices.Clone(items)
	s.loaded = true
	s.loadedAt = s.now()
	s.index()
}

// index rebuilds byToken. Callers hold mu.
func (s *CatalogService) index() {
	clear(s.byToken)
	for _, it := range s.items {
		if it.Token != nil && it.Name != "" {
			s.byToken[*it.Token] = it.Name
		}
	}
}

// mergeCatalog keeps every on-chain sale in log order, overlaying display
// fields from the cached entry for the same sale. Cached sales the factory
// never announced are dropped.
func mergeCatalog(onChain, cached []domain.CatalogItem) []domain.CatalogItem {
	bySale := make(map[string]domain.CatalogItem, len(cached))
	for _, c := range cached {
		if c.Sale != nil {
			bySale[strings.ToLower(c.Sale.Hex())] = c
		}
	}

	out := make([]domain.CatalogItem, 0, len(onChain))
	seen := make(map[string]bool, len(onChain))
	for _, it := range onChain {
		if it.Sale == nil {
			continue
		}
		key := strings.ToLower(it.Sale.Hex())
		if seen[key] {
			continue
		}
		seen[key] = true
		if c, ok := bySale[key]; ok {
			overlay(&it.Name, c.Name)
			overlay(&it.Symbol, c.Symbol)
			overlay(&it.Image, c.Image)
			overlay(&it.Location, c.Location)
			overlay(&it.TotalPrice, c.TotalPrice)
		}
		out = append(out, it)
	}
	return out
}

func overlay(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
