package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// PortfolioService reads a wallet's primary-sale history.
type PortfolioService interface {
	Summary(ctx context.Context, wallet common.Address) (domain.PortfolioSummary, error)
	Transactions(ctx context.Context, wallet common.Address) ([]domain.SaleActivity, error)
}

// PortfolioHandler serves per-wallet endpoints.
type PortfolioHandler struct {
	portfolio PortfolioService
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, logger: logger}
}

// GetSummary returns holdings, invested totals and balances of a wallet.
// GET /api/portfolio/{wallet}
func (h *PortfolioHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	wallet, err := pathAddress(r, "wallet")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := h.portfolio.Summary(r.Context(), wallet)
	if err != nil {
		writeServiceError(w, r, h.logger, "portfolio summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ListTransactions returns buys and refunds of a wallet, newest first.
// GET /api/portfolio/{wallet}/transactions?limit=50&offset=0
func (h *PortfolioHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	wallet, err := pathAddress(r, "wallet")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acts, err := h.portfolio.Transactions(r.Context(), wallet)
	if err != nil {
		writeServiceError(w, r, h.logger, "transactions", err)
		return
	}
	opts := parseListOpts(r)
	total := len(acts)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)
	page := acts[start:end]
	if page == nil {
		page = []domain.SaleActivity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": page,
		"total":        total,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}
