package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/market"
	"github.com/alanyoungcy/rwamarket/internal/server"
	"github.com/alanyoungcy/rwamarket/internal/server/handler"
	"github.com/alanyoungcy/rwamarket/internal/service"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	saleA   = common.HexToAddress("0x00000000000000000000000000000000000005a1")
	alice   = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

type fakeMarkets struct {
	mu       sync.Mutex
	listings []domain.Listing
	pending  []domain.Listing
	err      error
	window   market.Window
}

func (f *fakeMarkets) Listings(_ context.Context, token *common.Address) (service.ListingsView, error) {
	if f.err != nil {
		return service.ListingsView{}, f.err
	}
	var out []domain.Listing
	for _, l := range f.listings {
		if token == nil || l.Token == *token {
			out = append(out, l)
		}
	}
	return service.ListingsView{Listings: out, Seq: 3}, nil
}

func (f *fakeMarkets) AddPending(_ context.Context, l domain.Listing) (domain.Listing, error) {
	if l.Remaining == 0 || l.Price6 == 0 {
		return domain.Listing{}, domain.ErrInvalidListing
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l.Status = domain.ListingPending
	f.pending = append(f.pending, l)
	return l, nil
}

func (f *fakeMarkets) MarketData(_ context.Context, token common.Address) (domain.MarketData, error) {
	if f.err != nil {
		return domain.MarketData{}, f.err
	}
	if token != tokenA {
		return domain.MarketData{}, domain.ErrNotFound
	}
	last := uint64(1_500_000)
	return domain.MarketData{Token: token, LastPrice6: &last}, nil
}

func (f *fakeMarkets) Chart(_ context.Context, _ common.Address, w market.Window) ([]domain.ChartPoint, error) {
	f.window = w
	return nil, nil
}

func (f *fakeMarkets) Anomalies(context.Context) []domain.Anomaly {
	return []domain.Anomaly{{Kind: domain.AnomalyUnknownListing, ListingID: 9}}
}

func (f *fakeMarkets) History(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{{ID: 1, Event: opts.EventPrefix + "x"}}, nil
}

func (f *fakeMarkets) Status() service.Status { return service.Status{Seq: 3, Active: len(f.listings)} }

type fakeCatalog struct{ items []domain.CatalogItem }

func (f *fakeCatalog) List(context.Context) ([]domain.CatalogItem, error) { return f.items, nil }

func (f *fakeCatalog) Upsert(_ context.Context, sale common.Address, meta domain.CatalogMetadata) (domain.CatalogItem, error) {
	for i, it := range f.items {
		if it.Sale != nil && *it.Sale == sale {
			f.items[i].Name = meta.Name
			return f.items[i], nil
		}
	}
	return domain.CatalogItem{}, domain.ErrNotFound
}

type fakePortfolio struct{ acts []domain.SaleActivity }

func (f *fakePortfolio) Summary(_ context.Context, wallet common.Address) (domain.PortfolioSummary, error) {
	return domain.PortfolioSummary{Wallet: wallet, TotalInvested6: 100}, nil
}

func (f *fakePortfolio) Transactions(context.Context, common.Address) ([]domain.SaleActivity, error) {
	return f.acts, nil
}

type fakeTrigger struct{ n int }

func (f *fakeTrigger) Trigger() bool { f.n++; return f.n == 1 }

type fakeLimiter struct {
	allow     bool
	remaining int
	err       error
}

func (f fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, int, error) {
	return f.allow, f.remaining, f.err
}

type env struct {
	markets *fakeMarkets
	catalog *fakeCatalog
	trigger *fakeTrigger
	h       http.Handler
}

func newEnv(t *testing.T, cfg server.Config, limiter domain.RateLimiter) *env {
	t.Helper()
	sale := saleA
	e := &env{
		markets: &fakeMarkets{listings: []domain.Listing{
			{ID: 1, Token: tokenA, Remaining: 5, Price6: 1_000_000, Status: domain.ListingConfirmed},
			{ID: 2, Token: common.HexToAddress("0xb2"), Remaining: 1, Price6: 2_000_000, Status: domain.ListingConfirmed},
		}},
		catalog: &fakeCatalog{items: []domain.CatalogItem{{Name: "Loft", Sale: &sale}}},
		trigger: &fakeTrigger{},
	}
	portfolio := &fakePortfolio{acts: []domain.SaleActivity{
		{Kind: domain.ActivityBuy, Amount: 3}, {Kind: domain.ActivityBuy, Amount: 2}, {Kind: domain.ActivityRefund},
	}}
	e.h = server.NewHandler(cfg, server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"cache": func(context.Context) error { return nil },
		}),
		Status:    handler.NewStatusHandler("server", e.markets),
		Markets:   handler.NewMarketHandler(e.markets, discard),
		Catalog:   handler.NewCatalogHandler(e.catalog, discard),
		Portfolio: handler.NewPortfolioHandler(portfolio, discard),
		Pipeline:  handler.NewPipelineHandler(e.trigger, discard),
	}, nil, limiter, discard)
	return e
}

func (e *env) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListings(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)

	rec := e.do(t, http.MethodGet, "/api/listings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[service.ListingsView](t, rec).Listings, 2)

	rec = e.do(t, http.MethodGet, "/api/listings?token="+tokenA.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[service.ListingsView](t, rec)
	require.Len(t, view.Listings, 1)
	assert.Equal(t, uint64(1), view.Listings[0].ID)

	rec = e.do(t, http.MethodGet, "/api/listings?token=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListingsTransportFailure(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)
	e.markets.err = &domain.TransportError{Op: "logs", Err: errors.New("dial tcp: refused")}

	rec := e.do(t, http.MethodGet, "/api/listings", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestAddPending(t *testing.T) {
	e := newEnv(t, server.Config{APIKey: "secret"}, nil)
	body := `{"id":7,"seller":"` + alice.Hex() + `","token":"` + tokenA.Hex() + `","remaining":4,"price6":1200000,"name":" Loft "}`

	t.Run("requires key", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/listings/pending", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("created", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/listings/pending", body, map[string]string{"X-API-Key": "secret"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		l := decode[domain.Listing](t, rec)
		assert.Equal(t, domain.ListingPending, l.Status)
		assert.Equal(t, "Loft", l.Name)
		assert.Equal(t, alice, l.Seller)
	})

	t.Run("invalid listing", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/listings/pending", `{"id":8,"remaining":0,"price6":1}`,
			map[string]string{"Authorization": "Bearer secret"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/listings/pending", `{"id":8,"bogus":1}`,
			map[string]string{"Authorization": "Bearer secret"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reads stay public", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/listings", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMarketAndChart(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)

	rec := e.do(t, http.MethodGet, "/api/market/"+tokenA.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	md := decode[domain.MarketData](t, rec)
	require.NotNil(t, md.LastPrice6)
	assert.Equal(t, uint64(1_500_000), *md.LastPrice6)

	rec = e.do(t, http.MethodGet, "/api/market/0x00000000000000000000000000000000000000ff", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/market/zzz", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/market/"+tokenA.Hex()+"/chart?range=1d", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, market.Window1D, e.markets.window)
	assert.Contains(t, rec.Body.String(), `"points":[]`)

	rec = e.do(t, http.MethodGet, "/api/market/"+tokenA.Hex()+"/chart?range=5Y", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogAndPortfolio(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)

	rec := e.do(t, http.MethodGet, "/api/catalog", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = e.do(t, http.MethodPut, "/api/catalog/"+saleA.Hex(), `{"name":"Harbour Loft"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Harbour Loft", decode[domain.CatalogItem](t, rec).Name)

	rec = e.do(t, http.MethodPut, "/api/catalog/"+alice.Hex(), `{"name":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/portfolio/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, decode[domain.PortfolioSummary](t, rec).Wallet)

	rec = e.do(t, http.MethodGet, "/api/portfolio/"+alice.Hex()+"/transactions?limit=2&offset=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Transactions []domain.SaleActivity `json:"transactions"`
		Total        int                   `json:"total"`
	}](t, rec)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, uint64(2), page.Transactions[0].Amount)

	rec = e.do(t, http.MethodGet, "/api/portfolio/"+alice.Hex()+"/transactions?offset=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transactions":[]`)
}

func TestOperationalEndpoints(t *testing.T) {
	e := newEnv(t, server.Config{}, nil)

	rec := e.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = e.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"server"`)

	rec = e.do(t, http.MethodGet, "/api/anomalies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"listingId":9`)

	rec = e.do(t, http.MethodGet, "/api/audit?prefix=anomaly.", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"anomaly.x"`)

	rec = e.do(t, http.MethodPost, "/api/pipeline/trigger", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "refresh enqueued")
	rec = e.do(t, http.MethodPost, "/api/pipeline/trigger", "", nil)
	assert.Contains(t, rec.Body.String(), "already pending")
}

func TestMiddleware(t *testing.T) {
	t.Run("request id", func(t *testing.T) {
		e := newEnv(t, server.Config{}, nil)
		rec := e.do(t, http.MethodGet, "/api/health", "", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		rec = e.do(t, http.MethodGet, "/api/health", "", map[string]string{"X-Request-ID": "abc"})
		assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	})

	t.Run("rate limited", func(t *testing.T) {
		e := newEnv(t, server.Config{RateLimit: 10, RateWindow: time.Minute}, fakeLimiter{allow: false})
		rec := e.do(t, http.MethodGet, "/api/listings", "", nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("remaining header", func(t *testing.T) {
		e := newEnv(t, server.Config{RateLimit: 10, RateWindow: time.Minute}, fakeLimiter{allow: true, remaining: 7})
		rec := e.do(t, http.MethodGet, "/api/listings", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "7", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		e := newEnv(t, server.Config{RateLimit: 10, RateWindow: time.Minute}, fakeLimiter{err: errors.New("redis down")})
		rec := e.do(t, http.MethodGet, "/api/listings", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		e := newEnv(t, server.Config{CORSOrigins: []string{"https://app.example"}}, nil)
		rec := e.do(t, http.MethodOptions, "/api/listings/pending", "", map[string]string{
			"Origin":                        "https://app.example",
			"Access-Control-Request-Method": http.MethodPost,
		})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

		rec = e.do(t, http.MethodGet, "/api/health", "", map[string]string{"Origin": "https://evil.example"})
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
