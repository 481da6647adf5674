package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/portfolio"
)

// DefaultFeeBps is the vault fee shown when the vault cannot be read.
const DefaultFeeBps = 200

// SaleDecoder turns a primary-sale log into wallet activity.
type SaleDecoder interface {
	Decode(raw domain.RawLog) (domain.SaleActivity, error)
}

// CatalogLister lists the known properties.
type CatalogLister interface {
	List(ctx context.Context) ([]domain.CatalogItem, error)
}

// PortfolioConfig locates the stablecoin and vault contracts.
type PortfolioConfig struct {
	USD         common.Address
	Vault       common.Address
	Range       domain.BlockRange
	Concurrency int
}

// PortfolioDeps are the readers a PortfolioService needs. Blocks, Tokens,
// Vault and Prices may be nil.
type PortfolioDeps struct {
	Logs    domain.LogSource
	Blocks  domain.BlockResolver
	Decoder SaleDecoder
	Catalog CatalogLister
	Tokens  domain.TokenReader
	Vault   domain.VaultReader
	Prices  domain.PriceCache
}

// PortfolioService builds per-wallet views from primary-sale logs.
type PortfolioService struct {
	cfg    PortfolioConfig
	deps   PortfolioDeps
	logger *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(cfg PortfolioConfig, deps PortfolioDeps, logger *slog.Logger) *PortfolioService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &PortfolioService{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "portfolio_service")),
	}
}

// Transactions returns wallet's buys and refunds across every sale in the
// catalog, newest first. A sale whose log cannot be read is skipped; the
// call fails only when every sale fails.
func (s *PortfolioService) Transactions(ctx context.Context, wallet common.Address) ([]domain.SaleActivity, error) {
	catalog, err := s.deps.Catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list catalog: %w", err)
	}
	acts, err := s.activity(ctx, wallet, catalog)
	if err != nil {
		return nil, err
	}
	portfolio.SortNewestFirst(acts)
	return acts, nil
}

// Summary aggregates wallet's position across the catalog and fills in
// on-chain balances.
func (s *PortfolioService) Summary(ctx context.Context, wallet common.Address) (domain.PortfolioSummary, error) {
	catalog, err := s.deps.Catalog.List(ctx)
	if err != nil {
		return domain.PortfolioSummary{}, fmt.Errorf("portfolio_service: list catalog: %w", err)
	}
	acts, err := s.activity(ctx, wallet, catalog)
	if err != nil {
		return domain.PortfolioSummary{}, err
	}

	sum := portfolio.Summarize(wallet, acts, catalog)
	s.fillBalances(ctx, &sum)
	return sum, nil
}

// activity reads every sale concurrently and concatenates the results in
// catalog order.
func (s *PortfolioService) activity(ctx context.Context, wallet common.Address, catalog []domain.CatalogItem) ([]domain.SaleActivity, error) {
	perSale := make([][]domain.SaleActivity, len(catalog))
	failures := make([]error, len(catalog))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	sales := 0
	for i, item := range catalog {
		if item.Sale == nil {
			continue
		}
		sales++
		g.Go(func() error {
			got, err := s.saleActivity(gctx, *item.Sale, wallet)
			if err != nil {
				s.logger.WarnContext(gctx, "portfolio_service: sale log unavailable",
					slog.String("sale", item.Sale.Hex()),
					slog.String("error", err.Error()),
				)
				failures[i] = err
				return nil
			}
			for j := range got {
				got[j].Property = item.Name
				got[j].Location = item.Location
			}
			perSale[i] = got
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed := errors.Join(failures...); failed != nil && countErrs(failures) == sales {
		return nil, fmt.Errorf("portfolio_service: read sales: %w", failed)
	}

	var acts []domain.SaleActivity
	for _, got := range perSale {
		acts = append(acts, got...)
	}
	if s.deps.Blocks != nil {
		s.resolveTimes(ctx, acts)
	}
	return acts, nil
}

func countErrs(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func (s *PortfolioService) saleActivity(ctx context.Context, sale, wallet common.Address) ([]domain.SaleActivity, error) {
	var out []domain.SaleActivity
	for raw, err := range s.deps.Logs.Logs(ctx, sale, s.cfg.Range) {
		if err != nil {
			return nil, err
		}
		a, err := s.deps.Decoder.Decode(raw)
		if err != nil {
			if !errors.Is(err, domain.ErrUnknownEvent) {
				s.logger.DebugContext(ctx, "portfolio_service: skipping log", slog.String("error", err.Error()))
			}
			continue
		}
		if a.Buyer == wallet {
			out = append(out, a)
		}
	}
	return out, nil
}

// resolveTimes fills timestamps, one lookup per distinct block.
func (s *PortfolioService) resolveTimes(ctx context.Context, acts []domain.SaleActivity) {
	times := make(map[common.Hash]time.Time)
	for i := range acts {
		h := acts[i].BlockHash
		ts, ok := times[h]
		if !ok {
			var err error
			ts, err = s.deps.Blocks.BlockTime(ctx, h)
			if err != nil {
				s.logger.DebugContext(ctx, "portfolio_service: block time unresolved",
					slog.String("block_hash", h.Hex()), slog.String("error", err.Error()))
			}
			times[h] = ts
		}
		acts[i].Timestamp = ts
	}
}

func (s *PortfolioService) fillBalances(ctx context.Context, sum *domain.PortfolioSummary) {
	sum.VaultFeeBps = DefaultFeeBps

	if s.deps.Tokens != nil {
		for i := range sum.Holdings {
			h := &sum.Holdings[i]
			if h.Token == nil {
				continue
			}
			bal, err := s.deps.Tokens.BalanceOf(ctx, *h.Token, sum.Wallet)
			if err != nil {
				s.logger.WarnContext(ctx, "portfolio_service: token balance unavailable",
					slog.String("token", h.Token.Hex()), slog.String("error", err.Error()))
				continue
			}
			h.Balance = bal
		}
		if s.cfg.USD != (common.Address{}) {
			if bal, err := s.deps.Tokens.BalanceOf(ctx, s.cfg.USD, sum.Wallet); err == nil {
				sum.USDBalance = bal
			} else {
				s.logger.WarnContext(ctx, "portfolio_service: usd balance unavailable", slog.String("error", err.Error()))
			}
		}
	}

	if s.deps.Prices != nil {
		var tokens []string
		for _, h := range sum.Holdings {
			if h.Token != nil {
				tokens = append(tokens, h.Token.Hex())
			}
		}
		if len(tokens) > 0 {
			prices, err := s.deps.Prices.GetLastPrices(ctx, tokens)
			if err != nil {
				s.logger.WarnContext(ctx, "portfolio_service: last prices unavailable", slog.String("error", err.Error()))
			}
			for i := range sum.Holdings {
				h := &sum.Holdings[i]
				if h.Token == nil {
					continue
				}
				if p, ok := prices[h.Token.Hex()]; ok {
					h.LastPrice6 = &p
				}
			}
		}
	}

	if s.deps.Vault != nil && s.cfg.Vault != (common.Address{}) {
		if bal, err := s.deps.Vault.VaultBalance(ctx, s.cfg.Vault, sum.Wallet); err == nil {
			sum.VaultBalance = bal
		} else {
			s.logger.WarnContext(ctx, "portfolio_service: vault balance unavailable", slog.String("error", err.Error()))
		}
		if fee, err := s.deps.Vault.FeeBps(ctx, s.cfg.Vault); err == nil && fee > 0 {
			sum.VaultFeeBps = fee
		}
	}
}
