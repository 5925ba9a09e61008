package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/adapters"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/config"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// MarketData is the part of the orchestrator the REST layer calls.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*adapters.Quote, error)
	GetBatchQuotes(ctx context.Context, symbols []string) ([]adapters.Quote, error)
	GetHistoricalData(ctx context.Context, symbol string, days int) ([]adapters.OHLCV, error)
	GetFundamentals(ctx context.Context, symbol string) adapters.Fundamentals
	Secondary() adapters.FundamentalsProvider
	Status() []adapters.ProviderStatus
}

// Server exposes MarketData over JSON REST.
type Server struct {
	router  *mux.Router
	server  *http.Server
	data    MarketData
	caches  *cache.Registry
	clients *clientLimiter
	config  config.Server
}

// NewServer wires routes and middleware. Nothing listens until
// ListenAndServe is called.
func NewServer(cfg config.Server, data MarketData, caches *cache.Registry) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		data:    data,
		caches:  caches,
		clients: newClientLimiter(cfg.RequestsPerSecond, cfg.Burst),
		config:  cfg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.Handle("/health", observ.Health()).Methods(http.MethodGet)
	s.router.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.Use(jsonContentTypeMiddleware)

	// {symbol:.+} lets an escaped crypto pair such as BTC%2FUSD through.
	api.HandleFunc("/market/quote/{symbol:.+}", s.handleQuote).Methods(http.MethodGet)
	api.HandleFunc("/market/batch-quotes", s.handleBatchQuotes).Methods(http.MethodPost)
	api.HandleFunc("/market/history/{symbol:.+}", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/fundamentals-perplexity/{symbol:.+}", s.handleSecondaryFundamentals).Methods(http.MethodGet)
	api.HandleFunc("/fundamentals/{symbol:.+}", s.handleFundamentals).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/providers/status", s.handleProvidersStatus).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe() error {
	observ.Log("http_server_starting", map[string]any{"addr": s.config.Addr})
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	observ.Log("http_server_stopping", map[string]any{"addr": s.config.Addr})
	return s.server.Shutdown(ctx)
}
