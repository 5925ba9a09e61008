package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/adapters"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/config"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

func TestMain(m *testing.M) {
	observ.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type fixture struct {
	server *Server
	demo   *adapters.MockProvider
}

func newFixture(t *testing.T, cfg config.Server, primary adapters.QuoteProvider, secondary adapters.FundamentalsProvider) fixture {
	t.Helper()
	overrides := make(map[string]cache.Config)
	for name := range cache.DefaultConfigs() {
		overrides[name] = cache.Config{SweepInterval: -1}
	}
	reg := cache.NewRegistry(overrides)
	t.Cleanup(reg.Close)

	demo := adapters.NewDemoProvider()
	chain := []adapters.QuoteProvider{demo}
	if primary != nil {
		chain = []adapters.QuoteProvider{primary}
	}
	o, err := adapters.NewOrchestrator(adapters.OrchestratorConfig{
		QuoteChain:            chain,
		HistoryChain:          []adapters.HistoryProvider{demo},
		FundamentalsPrimary:   demo,
		FundamentalsSecondary: secondary,
	}, reg)
	require.NoError(t, err)
	return fixture{server: NewServer(cfg, o, reg), demo: demo}
}

func openServer() config.Server {
	return config.Server{Addr: ":0", MaxBatchSymbols: 3}
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestQuoteEndpoint(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)

	tests := []struct {
		target string
		symbol string
	}{
		{"/api/market/quote/aapl", "AAPL"},
		{"/api/market/quote/BTC%2FUSD", "BTC/USD"},
		{"/api/market/quote/btc-usd", "BTC/USD"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, f.server, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			q := decode[adapters.Quote](t, rec)
			assert.Equal(t, tt.symbol, q.Symbol)
			assert.Equal(t, adapters.MockName, q.Source)
			require.NotNil(t, q.Price)
		})
	}
}

func TestQuoteEndpointEchoesRequestID(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/market/quote/ZZZZ", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "abc123", body.RequestID)
}

func TestQuoteEndpointFailures(t *testing.T) {
	t.Run("unknown symbol everywhere", func(t *testing.T) {
		f := newFixture(t, openServer(), nil, nil)
		rec := do(t, f.server, http.MethodGet, "/api/market/quote/ZZZZ", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decode[ErrorResponse](t, rec)
		assert.Equal(t, adapters.ErrExhausted, body.Code)
		assert.Equal(t, "Not Found", body.Error)
	})

	t.Run("provider down", func(t *testing.T) {
		down := adapters.NewMockProvider("down")
		down.SetFailure(adapters.NewProviderError("", "HTTP 500", nil))
		f := newFixture(t, openServer(), down, nil)
		rec := do(t, f.server, http.MethodGet, "/api/market/quote/AAPL", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestBatchQuotesEndpoint(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)
	rec := do(t, f.server, http.MethodPost, "/api/market/batch-quotes", `{"symbols":["AAPL","ZZZZ","msft"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[BatchResponse](t, rec)
	assert.Equal(t, 3, body.Requested)
	assert.Equal(t, 2, body.Served)
	require.Len(t, body.Quotes, 3)
	assert.Equal(t, "AAPL", body.Quotes[0].Symbol)
	assert.True(t, body.Quotes[1].Failed())
	assert.Equal(t, "MSFT", body.Quotes[2].Symbol)
}

func TestBatchQuotesRejectsBadBodies(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `symbols=AAPL`},
		{"empty list", `{"symbols":[]}`},
		{"over the cap", `{"symbols":["A","B","C","D"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.server, http.MethodPost, "/api/market/batch-quotes", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "bad_request", decode[ErrorResponse](t, rec).Code)
		})
	}
	assert.Zero(t, f.demo.Calls("batch_quote"))
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)

	rec := do(t, f.server, http.MethodGet, "/api/market/history/AAPL?days=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[HistoryResponse](t, rec)
	assert.Equal(t, "AAPL", body.Symbol)
	assert.Equal(t, 10, body.Days)
	require.Len(t, body.Data, 10)
	assert.Less(t, body.Data[0].Date, body.Data[9].Date)

	rec = do(t, f.server, http.MethodGet, "/api/market/history/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[HistoryResponse](t, rec).Data, 30)

	rec = do(t, f.server, http.MethodGet, "/api/market/history/AAPL?days=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFundamentalsEndpoint(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)

	rec := do(t, f.server, http.MethodGet, "/api/fundamentals/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[adapters.Fundamentals](t, rec)
	assert.Equal(t, adapters.ReliabilityHigh, body.Reliability)
	assert.Equal(t, "2.95T", body.MarketCap)

	rec = do(t, f.server, http.MethodGet, "/api/fundamentals/ZZZZ", "")
	require.Equal(t, http.StatusOK, rec.Code, "degraded results are still a 200")
	body = decode[adapters.Fundamentals](t, rec)
	assert.Equal(t, "N/A", body.PERatio)
}

func TestSecondaryFundamentalsEndpoint(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, openServer(), nil, nil)
		rec := do(t, f.server, http.MethodGet, "/api/fundamentals-perplexity/AAPL", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, adapters.ErrConfig, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("served by the AI tier", func(t *testing.T) {
		ai := adapters.NewMockProvider(adapters.PerplexityName)
		ai.AddFundamentals(adapters.Fundamentals{Symbol: "AAPL", PERatio: "29.40", MarketCap: "2.95T"})
		f := newFixture(t, openServer(), nil, ai)

		rec := do(t, f.server, http.MethodGet, "/api/fundamentals-perplexity/aapl", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[adapters.Fundamentals](t, rec)
		assert.Equal(t, adapters.PerplexityName, body.DataSource)
		assert.Equal(t, "29.40", body.PERatio)
		assert.Zero(t, f.demo.Calls("fundamentals"), "the primary tier is bypassed")

		rec = do(t, f.server, http.MethodGet, "/api/fundamentals-perplexity/ZZZZ", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStatusEndpoints(t *testing.T) {
	f := newFixture(t, openServer(), nil, nil)
	do(t, f.server, http.MethodGet, "/api/market/quote/AAPL", "")

	rec := do(t, f.server, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[CacheStatsResponse](t, rec)
	assert.Len(t, stats.Namespaces, len(cache.DefaultConfigs()))

	rec = do(t, f.server, http.MethodGet, "/api/providers/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	providers := decode[ProvidersResponse](t, rec)
	require.Len(t, providers.Providers, 1)
	assert.Equal(t, adapters.MockName, providers.Providers[0].Name)

	rec = do(t, f.server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, f.server, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_ms")

	rec = do(t, f.server, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestRateLimitPerClient(t *testing.T) {
	f := newFixture(t, config.Server{RequestsPerSecond: 0.001, Burst: 1}, nil, nil)

	first := do(t, f.server, http.MethodGet, "/api/market/quote/AAPL", "")
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, f.server, http.MethodGet, "/api/market/quote/AAPL", "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/api/market/quote/AAPL", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per client")

	assert.Equal(t, http.StatusOK, do(t, f.server, http.MethodGet, "/health", "").Code, "health checks are not limited")
}

func TestStatusFor(t *testing.T) {
	symbolOnly := &adapters.QuoteError{
		Type: adapters.ErrExhausted,
		Cause: errors.Join(
			adapters.NewBadSymbolError("ZZZZ", "unknown"),
			adapters.NewUnavailableError("ZZZZ", "no data"),
		),
	}
	mixed := &adapters.QuoteError{
		Type: adapters.ErrExhausted,
		Cause: errors.Join(
			adapters.NewBadSymbolError("ZZZZ", "unknown"),
			adapters.NewTimeoutError("ZZZZ", "slow", nil),
		),
	}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad symbol", adapters.NewBadSymbolError("X", "x"), http.StatusNotFound},
		{"rate limit", adapters.NewRateLimitError("X", "x"), http.StatusServiceUnavailable},
		{"timeout", adapters.NewTimeoutError("X", "x", nil), http.StatusGatewayTimeout},
		{"config", adapters.NewConfigError("x", "x"), http.StatusInternalServerError},
		{"exhausted on symbol", symbolOnly, http.StatusNotFound},
		{"exhausted mixed", mixed, http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
