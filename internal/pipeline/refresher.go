package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/market"
)

// LockKey serialises refreshes across replicas.
const LockKey = "lock:refresh"

// MarketRefresher rebuilds the market snapshot.
type MarketRefresher interface {
	Refresh(ctx context.Context) (*market.Snapshot, error)
}

// CatalogRefresher rebuilds the property catalog.
type CatalogRefresher interface {
	Refresh(ctx context.Context) ([]domain.CatalogItem, error)
}

// Refresher rebuilds the catalog and market snapshot on an interval and on
// demand. When a lock manager is configured only one replica refreshes at a
// time; the others skip the round.
type Refresher struct {
	market   MarketRefresher
	catalog  CatalogRefresher
	locks    domain.LockManager
	lockTTL  time.Duration
	interval time.Duration
	trigger  chan struct{}
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. catalog and locks may be nil.
func NewRefresher(
	m MarketRefresher,
	catalog CatalogRefresher,
	locks domain.LockManager,
	interval, lockTTL time.Duration,
	logger *slog.Logger,
) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		market:   m,
		catalog:  catalog,
		locks:    locks,
		lockTTL:  lockTTL,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With(slog.String("component", "refresher")),
	}
}

// Trigger requests a refresh outside the schedule. It reports false when a
// request is already queued.
func (r *Refresher) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce performs one refresh round. A round skipped because another
// replica holds the lock is not an error.
func (r *Refresher) RunOnce(ctx context.Context) error {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, LockKey, r.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.DebugContext(ctx, "refresh skipped, lock held elsewhere")
				return nil
			}
			return fmt.Errorf("refresher: acquire lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	if r.catalog != nil {
		if _, err := r.catalog.Refresh(ctx); err != nil {
			r.logger.WarnContext(ctx, "catalog refresh failed", slog.String("error", err.Error()))
		}
	}
	snap, err := r.market.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresher: market: %w", err)
	}
	r.logger.InfoContext(ctx, "refresh complete",
		slog.Uint64("seq", snap.Seq),
		slog.Int("active", len(snap.Listings)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Run refreshes immediately, then on every tick and trigger until ctx is
// cancelled. Failed rounds are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "refresher started", slog.Duration("interval", r.interval))
	r.round(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			r.round(ctx)
		case <-r.trigger:
			r.logger.InfoContext(ctx, "manual refresh")
			r.round(ctx)
		}
	}
}

func (r *Refresher) round(ctx context.Context) {
	if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "refresh failed", slog.String("error", err.Error()))
	}
}
