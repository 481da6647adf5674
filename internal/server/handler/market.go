package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/market"
	"github.com/alanyoungcy/rwamarket/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer.
type MarketService interface {
	Listings(ctx context.Context, token *common.Address) (service.ListingsView, error)
	AddPending(ctx context.Context, l domain.Listing) (domain.Listing, error)
	MarketData(ctx context.Context, token common.Address) (domain.MarketData, error)
	Chart(ctx context.Context, token common.Address, w market.Window) ([]domain.ChartPoint, error)
	Anomalies(ctx context.Context) []domain.Anomaly
	History(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// MarketHandler serves listing, order-book and chart endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListListings returns the merged active listings, optionally for one token.
// GET /api/listings?token=0x...
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	var token *common.Address
	if v := strings.TrimSpace(r.URL.Query().Get("token")); v != "" {
		if !common.IsHexAddress(v) {
			writeError(w, http.StatusBadRequest, "token must be a hex address")
			return
		}
		addr := common.HexToAddress(v)
		token = &addr
	}

	view, err := h.markets.Listings(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, "list listings", err)
		return
	}
	if view.Listings == nil {
		view.Listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, view)
}

// pendingRequest is the body of a just-submitted listing.
type pendingRequest struct {
	ID        uint64         `json:"id"`
	Seller    common.Address `json:"seller"`
	Token     common.Address `json:"token"`
	Remaining uint64         `json:"remaining"`
	Price6    uint64         `json:"price6"`
	Name      string         `json:"name"`
}

// AddPending records an optimistic listing until the chain confirms it.
// POST /api/listings/pending
func (h *MarketHandler) AddPending(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.markets.AddPending(r.Context(), domain.Listing{
		ID:        req.ID,
		Seller:    req.Seller,
		Token:     req.Token,
		Remaining: req.Remaining,
		Price6:    req.Price6,
		Name:      strings.TrimSpace(req.Name),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "add pending listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// GetMarket returns the order book, trades, best ask and last price of one
// token.
// GET /api/market/{token}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	token, err := pathAddress(r, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	md, err := h.markets.MarketData(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, "market data", err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// GetChart returns chart points of one token within a window.
// GET /api/market/{token}/chart?range=1D
func (h *MarketHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	token, err := pathAddress(r, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := market.ParseWindow(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.markets.Chart(r.Context(), token, window)
	if err != nil {
		writeServiceError(w, r, h.logger, "chart", err)
		return
	}
	if points == nil {
		points = []domain.ChartPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  token,
		"range":  window,
		"points": points,
	})
}

// ListAnomalies returns recent replay anomalies, newest first.
// GET /api/anomalies
func (h *MarketHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies := h.markets.Anomalies(r.Context())
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

// ListAudit returns audit log entries.
// GET /api/audit?prefix=anomaly.&limit=50
func (h *MarketHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.markets.History(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
