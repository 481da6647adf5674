package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/server/handler"
	"github.com/alanyoungcy/rwamarket/internal/server/middleware"
	"github.com/alanyoungcy/rwamarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Catalog, Portfolio and Pipeline may be nil.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Markets   *handler.MarketHandler
	Catalog   *handler.CatalogHandler
	Portfolio *handler.PortfolioHandler
	Pipeline  *handler.PipelineHandler
}

// Server is the HTTP + WebSocket API of the market read model.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed mux wrapped in the middleware chain.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/listings", handlers.Markets.ListListings)
	mux.HandleFunc("POST /api/listings/pending", handlers.Markets.AddPending)
	mux.HandleFunc("GET /api/market/{token}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/market/{token}/chart", handlers.Markets.GetChart)
	mux.HandleFunc("GET /api/anomalies", handlers.Markets.ListAnomalies)
	mux.HandleFunc("GET /api/audit", handlers.Markets.ListAudit)

	if handlers.Catalog != nil {
		mux.HandleFunc("GET /api/catalog", handlers.Catalog.ListCatalog)
		mux.HandleFunc("PUT /api/catalog/{sale}", handlers.Catalog.UpsertCatalog)
	}
	if handlers.Portfolio != nil {
		mux.HandleFunc("GET /api/portfolio/{wallet}", handlers.Portfolio.GetSummary)
		mux.HandleFunc("GET /api/portfolio/{wallet}/transactions", handlers.Portfolio.ListTransactions)
	}
	if handlers.Pipeline != nil {
		mux.HandleFunc("POST /api/pipeline/trigger", handlers.Pipeline.TriggerPipeline)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Innermost first: auth sees only rate-limited traffic, logging sees
	// every response, CORS answers preflights before anything else.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
