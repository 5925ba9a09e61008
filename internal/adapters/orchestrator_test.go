package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

func mockQuote(symbol string, price float64) Quote {
	return Quote{Symbol: symbol, Price: ptr(price), Close: ptr(price), Volume: ptr(1000), Timestamp: time.Now().Add(-time.Minute)}
}

func newMockWith(name string, symbols ...string) *MockProvider {
	m := NewMockProvider(name)
	for i, s := range symbols {
		m.AddQuote(mockQuote(s, float64(100+i)))
	}
	return m
}

func newTestOrchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, newTestRegistry(t))
	require.NoError(t, err)
	return o
}

func TestNewOrchestratorRequiresQuoteChain(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorConfig{}, newTestRegistry(t))
	assert.Equal(t, ErrConfig, Kind(err))
}

func TestGetQuoteFallsBackInOrder(t *testing.T) {
	first := newMockWith("first", "AAPL")
	first.SetFailure(NewNetworkError("AAPL", "connection refused", nil))
	second := newMockWith("second", "AAPL")
	third := newMockWith("third", "AAPL")
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{first, second, third}})

	before := observ.CounterValue("fallback_tier_total", map[string]string{"op": "quote", "tier": "second"})
	q, err := o.GetQuote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "second", q.Source)
	assert.Equal(t, 1, first.Calls("quote"))
	assert.Equal(t, 1, second.Calls("quote"))
	assert.Zero(t, third.Calls("quote"), "providers after a success are not called")
	assert.Equal(t, before+1, observ.CounterValue("fallback_tier_total", map[string]string{"op": "quote", "tier": "second"}))
}

func TestGetQuoteSkipsInvalidQuotes(t *testing.T) {
	bad := NewMockProvider("bad")
	bad.AddQuote(Quote{Symbol: "AAPL", Price: ptr(0)})
	good := newMockWith("good", "AAPL")
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{bad, good}})

	q, err := o.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "good", q.Source)
}

func TestGetQuoteExhausted(t *testing.T) {
	a := NewMockProvider("a")
	b := NewMockProvider("b")
	b.SetFailure(NewRateLimitError("ZZZZ", "slow down"))
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{a, b}})

	_, err := o.GetQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, ErrExhausted, Kind(err))

	var qe *QuoteError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.Cause.Error(), "symbol not found in mock data")
	assert.Contains(t, qe.Cause.Error(), "slow down")

	_, err = o.GetQuote(context.Background(), "  ")
	assert.Equal(t, ErrBadSymbol, Kind(err))
}

func TestGetQuoteThroughChaos(t *testing.T) {
	flaky := NewChaosProvider(newMockWith("flaky", "AAPL"), ChaosConfig{ErrorRate: 1, Seed: 7})
	backup := newMockWith("backup", "AAPL")
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{flaky, backup}})

	for i := 0; i < 5; i++ {
		q, err := o.GetQuote(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "backup", q.Source)
	}
}

func TestGetBatchQuotesPartialFailure(t *testing.T) {
	primary := newMockWith("primary", "AAPL", "MSFT")
	secondary := newMockWith("secondary", "NVDA", "BTC/USD")
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{primary, secondary}})

	quotes, err := o.GetBatchQuotes(context.Background(), []string{"AAPL", "NVDA", "ZZZZ", "msft", "BTC-USD", "AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 6)

	assert.Equal(t, "primary", quotes[0].Source)
	assert.Equal(t, "secondary", quotes[1].Source)
	assert.True(t, quotes[2].Failed())
	assert.Equal(t, "ZZZZ", quotes[2].Symbol)
	assert.Equal(t, ErrBadSymbol, quotes[2].ErrorType)
	assert.Equal(t, "MSFT", quotes[3].Symbol)
	assert.Equal(t, "BTC/USD", quotes[4].Symbol)
	assert.Equal(t, quotes[0], quotes[5], "duplicates share one fetch")

	// primary saw every unique symbol once, secondary only the leftovers
	assert.Equal(t, 5, primary.Calls("quote"))
	assert.Equal(t, 3, secondary.Calls("quote"))
}

func TestGetBatchQuotesAllFailed(t *testing.T) {
	dead := NewMockProvider("dead")
	dead.SetFailure(NewProviderError("", "down", nil))
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{dead}})

	quotes, err := o.GetBatchQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	for _, q := range quotes {
		assert.True(t, q.Failed())
		assert.Equal(t, ErrProvider, q.ErrorType)
	}
}

func TestGetHistoricalDataClampsDays(t *testing.T) {
	demo := NewDemoProvider()
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{demo}, HistoryChain: []HistoryProvider{demo}})
	ctx := context.Background()

	bars, err := o.GetHistoricalData(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, bars, defaultHistoryDays)

	bars, err = o.GetHistoricalData(ctx, "AAPL", 99999)
	require.NoError(t, err)
	assert.Len(t, bars, 365, "clamped to 3650 then limited by stored data")
	assert.Less(t, bars[0].Date, bars[len(bars)-1].Date)
}

func TestGetHistoricalDataFallsBackOnEmptySeries(t *testing.T) {
	empty := NewMockProvider("empty")
	empty.AddHistory("AAPL", nil)
	full := NewMockProvider("full")
	full.AddHistory("AAPL", []OHLCV{{Date: "2024-05-01", Close: 1}})
	o := newTestOrchestrator(t, OrchestratorConfig{
		QuoteChain:   []QuoteProvider{full},
		HistoryChain: []HistoryProvider{empty, full},
	})

	bars, err := o.GetHistoricalData(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func appleFields() fundamentalFields {
	return fundamentalFields{
		Name: "Apple Inc.", Sector: "Technology", Industry: "Consumer Electronics",
		MarketCap: 2.95e12, PERatio: 29.4, EPS: 6.42, ProfitMargin: 0.25,
	}
}

func TestGetFundamentalsCompletePrimary(t *testing.T) {
	primary := NewMockProvider("alphavantage")
	primary.AddFundamentals(*appleFields().build("AAPL"))
	fc := &fakeCompleter{name: "perplexity", reply: `{"peRatio": 1}`}
	secondary, err := NewAIFundamentalsProvider(fc, testProviderConfig(""), newTestRegistry(t))
	require.NoError(t, err)
	o := newTestOrchestrator(t, OrchestratorConfig{
		QuoteChain:            []QuoteProvider{primary},
		FundamentalsPrimary:   primary,
		FundamentalsSecondary: secondary,
	})
	ctx := context.Background()

	f := o.GetFundamentals(ctx, "AAPL")
	assert.Equal(t, ReliabilityHigh, f.Reliability)
	assert.Equal(t, "alphavantage", f.DataSource)
	assert.Equal(t, "29.40", f.PERatio)

	o.GetFundamentals(ctx, "aapl")
	assert.Equal(t, 1, primary.Calls("fundamentals"), "complete results are cached")
	assert.Zero(t, fc.calls.Load())
}

func TestGetFundamentalsSecondaryFillsGaps(t *testing.T) {
	partial := appleFields()
	partial.PERatio = nil
	primary := NewMockProvider("alphavantage")
	primary.AddFundamentals(*partial.build("AAPL"))

	fc := &fakeCompleter{name: "perplexity", reply: "Apple trades with a P/E ratio of 31.2 and a beta of 1.25."}
	secondary, err := NewAIFundamentalsProvider(fc, testProviderConfig(""), newTestRegistry(t))
	require.NoError(t, err)
	o := newTestOrchestrator(t, OrchestratorConfig{
		QuoteChain:            []QuoteProvider{primary},
		FundamentalsPrimary:   primary,
		FundamentalsSecondary: secondary,
	})

	f := o.GetFundamentals(context.Background(), "AAPL")
	assert.Equal(t, ReliabilityMedium, f.Reliability)
	assert.Equal(t, "perplexity", f.DataSource)
	assert.Equal(t, "31.20", f.PERatio)
	assert.Equal(t, "1.25", f.Beta)
	assert.Equal(t, "Apple Inc.", f.Name, "filled from the partial primary result")
	assert.Equal(t, "2.95T", f.MarketCap)
	assert.Equal(t, "6.42", f.EPS)

	o.GetFundamentals(context.Background(), "AAPL")
	assert.Equal(t, 2, primary.Calls("fundamentals"), "merged results are not cached")
}

func TestGetFundamentalsPartialPrimaryWhenSecondaryFails(t *testing.T) {
	partial := appleFields()
	partial.PERatio = nil
	primary := NewMockProvider("alphavantage")
	primary.AddFundamentals(*partial.build("AAPL"))
	fc := &fakeCompleter{name: "perplexity", err: NewNetworkError("", "down", nil)}
	secondary, err := NewAIFundamentalsProvider(fc, testProviderConfig(""), newTestRegistry(t))
	require.NoError(t, err)
	o := newTestOrchestrator(t, OrchestratorConfig{
		QuoteChain:            []QuoteProvider{primary},
		FundamentalsPrimary:   primary,
		FundamentalsSecondary: secondary,
	})

	f := o.GetFundamentals(context.Background(), "AAPL")
	assert.Equal(t, ReliabilityMedium, f.Reliability)
	assert.Equal(t, ConfidenceMedium, f.Confidence)
	assert.Equal(t, "alphavantage", f.DataSource)
	assert.Equal(t, normalize.NA, f.PERatio)
	assert.Equal(t, "2.95T", f.MarketCap)
}

func TestGetFundamentalsEmptyFallback(t *testing.T) {
	primary := NewMockProvider("alphavantage")
	fc := &fakeCompleter{name: "perplexity", reply: "I don't have data on ZZZZ."}
	secondary, err := NewAIFundamentalsProvider(fc, testProviderConfig(""), newTestRegistry(t))
	require.NoError(t, err)
	o := newTestOrchestrator(t, OrchestratorConfig{
		QuoteChain:            []QuoteProvider{primary},
		FundamentalsPrimary:   primary,
		FundamentalsSecondary: secondary,
	})
	ctx := context.Background()

	f := o.GetFundamentals(ctx, "ZZZZ")
	assert.Equal(t, "ZZZZ", f.Symbol)
	assert.Equal(t, "none", f.DataSource)
	assert.Equal(t, ReliabilityNone, f.Reliability)
	for _, s := range []string{f.Name, f.Sector, f.Industry, f.MarketCap, f.PERatio, f.ForwardPE, f.EPS,
		f.ProfitMargin, f.OperatingMargin, f.ReturnOnEquity, f.ReturnOnAssets, f.DebtToEquity, f.DividendYield, f.Beta} {
		assert.Equal(t, normalize.NA, s)
	}
	assert.Zero(t, f.MarketCapRaw)
	assert.Zero(t, f.Revenue)
	assert.False(t, f.LastUpdated.IsZero())

	o.GetFundamentals(ctx, "ZZZZ")
	assert.Equal(t, 1, primary.Calls("fundamentals"), "empty result is negatively cached")
	assert.EqualValues(t, 1, fc.calls.Load())
}

func TestGetFundamentalsWithoutTiers(t *testing.T) {
	o := newTestOrchestrator(t, OrchestratorConfig{QuoteChain: []QuoteProvider{NewMockProvider("")}})
	f := o.GetFundamentals(context.Background(), "AAPL")
	assert.Equal(t, ReliabilityNone, f.Reliability)
	assert.Nil(t, o.Secondary())
}

func TestStatusMergesRoles(t *testing.T) {
	reg := newTestRegistry(t)
	srv := newUpstream(t, nil)
	av, err := NewAlphaVantageAdapter(testProviderConfig(srv.URL), reg)
	require.NoError(t, err)
	demo := NewDemoProvider()
	o := newTestOrchestrator(t, OrchestratorConfig{
		QuoteChain:          []QuoteProvider{demo, av},
		HistoryChain:        []HistoryProvider{av},
		FundamentalsPrimary: av,
	})

	st := o.Status()
	require.Len(t, st, 2)
	assert.Equal(t, MockName, st[0].Name)
	assert.Nil(t, st[0].Limiter)
	assert.Equal(t, AlphaVantageName, st[1].Name)
	assert.Equal(t, []string{"quote", "history", "fundamentals_primary"}, st[1].Roles)
	require.NotNil(t, st[1].Limiter)
	require.NotNil(t, st[1].Health)
	assert.Equal(t, HealthStatusHealthy, st[1].Health.Status)
}
