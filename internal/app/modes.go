package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/ledger"
	"github.com/alanyoungcy/rwamarket/internal/market"
	"github.com/alanyoungcy/rwamarket/internal/pipeline"
	"github.com/alanyoungcy/rwamarket/internal/server"
	"github.com/alanyoungcy/rwamarket/internal/server/handler"
	"github.com/alanyoungcy/rwamarket/internal/server/ws"
	"github.com/alanyoungcy/rwamarket/internal/service"
)

// services are the domain services shared by every mode. catalog and
// portfolio are nil when no factory address is configured.
type services struct {
	market    *service.MarketService
	catalog   *service.CatalogService
	portfolio *service.PortfolioService
}

// wait blocks until detached cache writes have finished.
func (s *services) wait() {
	s.market.Wait()
	if s.catalog != nil {
		s.catalog.Wait()
	}
}

func (a *App) buildServices(deps *Dependencies) *services {
	rng := domain.BlockRange{}
	if from := a.cfg.Chain.FromBlock; from > 0 {
		rng.From = &from
	}

	engine := market.NewEngine(market.EngineConfig{
		Venue:       common.HexToAddress(a.cfg.Chain.Marketplace),
		Range:       rng,
		Verify:      a.cfg.Market.Verify,
		Concurrency: a.cfg.Market.Concurrency,
	}, deps.Chain, deps.Chain, deps.Chain, ledger.NewMarketplaceDecoder(), a.logger)

	out := &services{}
	mdeps := service.MarketDeps{
		KV:       deps.KV,
		Prices:   deps.PriceCache,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Archive:  deps.Archive,
		Notifier: deps.Notifier,
	}

	if f := a.cfg.Chain.Factory; f != "" {
		out.catalog = service.NewCatalogService(service.CatalogConfig{
			Factory: common.HexToAddress(f),
			Range:   rng,
			MaxAge:  a.cfg.Market.MaxAge.Duration,
		}, deps.Chain, ledger.NewFactoryDecoder(), deps.KV, a.logger)
		mdeps.Names = out.catalog

		pcfg := service.PortfolioConfig{Range: rng, Concurrency: a.cfg.Market.Concurrency}
		if a.cfg.Chain.USD != "" {
			pcfg.USD = common.HexToAddress(a.cfg.Chain.USD)
		}
		if a.cfg.Chain.Vault != "" {
			pcfg.Vault = common.HexToAddress(a.cfg.Chain.Vault)
		}
		pdeps := service.PortfolioDeps{
			Logs:    deps.Chain,
			Blocks:  deps.Chain,
			Decoder: ledger.NewSaleDecoder(),
			Catalog: out.catalog,
			Tokens:  deps.Chain,
			Vault:   deps.Chain,
			Prices:  deps.PriceCache,
		}
		out.portfolio = service.NewPortfolioService(pcfg, pdeps, a.logger)
	}

	out.market = service.NewMarketService(service.MarketConfig{
		PendingTTL:    a.cfg.Market.PendingTTL.Duration,
		MaxAge:        a.cfg.Market.MaxAge.Duration,
		CacheTimeout:  a.cfg.Cache.WriteTimeout.Duration,
		AnomalyStream: a.cfg.Market.AnomalyTail,
	}, engine, mdeps, a.logger)
	return out
}

// ServerMode serves the HTTP API. Snapshots are built on demand, and by the
// refresher when the pipeline is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)

	var orch *pipeline.Orchestrator
	if a.cfg.Pipeline.Enabled {
		orch = a.newOrchestrator(deps, svcs, false)
		g.Go(func() error { return orch.Run(ctx) })
	}
	a.startHTTPServer(ctx, g, deps, svcs, orch)
	return g.Wait()
}

// FullMode runs the HTTP API, the refresher and, when S3 is configured, the
// snapshot archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	orch := a.newOrchestrator(deps, svcs, true)
	g.Go(func() error { return orch.Run(ctx) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, orch)
	}
	return g.Wait()
}

// refreshSummary is printed by refresh mode.
type refreshSummary struct {
	Market   service.Status `json:"market"`
	Catalog  int            `json:"catalog"`
	Snapshot string         `json:"snapshot,omitempty"`
}

// RefreshMode runs one build, warms the caches, optionally exports the
// snapshot, and prints a JSON summary.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting refresh mode")
	var sum refreshSummary

	if svcs.catalog != nil {
		items, err := svcs.catalog.Refresh(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "catalog refresh failed", slog.String("error", err.Error()))
		}
		sum.Catalog = len(items)
	}
	if _, err := svcs.market.Refresh(ctx); err != nil {
		return fmt.Errorf("app: refresh: %w", err)
	}
	svcs.wait()
	sum.Market = svcs.market.Status()

	if deps.Archive != nil && a.cfg.Pipeline.ArchiveEnabled {
		snap, err := svcs.market.Export(ctx)
		if err != nil {
			return fmt.Errorf("app: snapshot: %w", err)
		}
		if sum.Snapshot, err = deps.Archive.Export(ctx, snap); err != nil {
			return fmt.Errorf("app: export snapshot: %w", err)
		}
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func (a *App) newOrchestrator(deps *Dependencies, svcs *services, archive bool) *pipeline.Orchestrator {
	var catalog pipeline.CatalogRefresher
	if svcs.catalog != nil {
		catalog = svcs.catalog
	}
	refresher := pipeline.NewRefresher(
		svcs.market, catalog, deps.LockManager,
		a.cfg.Pipeline.RefreshInterval.Duration,
		a.cfg.Pipeline.LockTTL.Duration,
		a.logger,
	)

	var archiver *pipeline.Archiver
	if archive && deps.Archive != nil && a.cfg.Pipeline.ArchiveEnabled {
		archiver = pipeline.NewArchiver(svcs.market, deps.Archive, a.logger)
	}
	return pipeline.NewOrchestrator(refresher, archiver, a.cfg.Pipeline.ArchiveCron, a.logger, deps.Notifier)
}

// startHTTPServer registers the API and websocket hub and runs them under g.
// orch may be nil, in which case the trigger endpoint is not registered.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svcs *services,
	orch *pipeline.Orchestrator,
) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks),
		Status:  handler.NewStatusHandler(a.cfg.Mode, svcs.market),
		Markets: handler.NewMarketHandler(svcs.market, a.logger),
	}
	if svcs.catalog != nil {
		handlers.Catalog = handler.NewCatalogHandler(svcs.catalog, a.logger)
		handlers.Portfolio = handler.NewPortfolioHandler(svcs.portfolio, a.logger)
	}
	if orch != nil {
		handlers.Pipeline = handler.NewPipelineHandler(orch, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
			Status:    func() any { return svcs.market.Status() },
		})
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
