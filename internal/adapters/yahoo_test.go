package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yahooQuoteJSON(symbols ...string) string {
	rows := make([]string, 0, len(symbols))
	for i, s := range symbols {
		rows = append(rows, fmt.Sprintf(`{"symbol":%q,"longName":"%s Corp","regularMarketPrice":%d.5,"regularMarketVolume":1000,"regularMarketTime":1714752000}`, s, s, 100+i))
	}
	return `{"quoteResponse":{"result":[` + strings.Join(rows, ",") + `],"error":null}}`
}

func newYahooTest(t *testing.T, h http.HandlerFunc) (*YahooAdapter, *upstream) {
	t.Helper()
	srv := newUpstream(t, h)
	cfg := testProviderConfig(srv.URL)
	cfg.APIKey = ""
	y, err := NewYahooAdapter(cfg, newTestRegistry(t))
	require.NoError(t, err)
	return y, srv
}

func TestYahooBatchPartialFailure(t *testing.T) {
	y, srv := newYahooTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v7/finance/quote", r.URL.Path)
		assert.Equal(t, "AAPL,MSFT,ZZZZ,NVDA,BTC-USD", r.URL.Query().Get("symbols"))
		writeJSON(w, yahooQuoteJSON("AAPL", "MSFT", "NVDA", "BTC-USD"))
	})

	quotes, err := y.GetBatchQuotes(context.Background(), []string{"AAPL", "msft", "ZZZZ", "NVDA", "BTC/USD"})
	require.NoError(t, err)
	require.Len(t, quotes, 5)
	assert.EqualValues(t, 1, srv.hits.Load())

	want := []string{"AAPL", "MSFT", "ZZZZ", "NVDA", "BTC/USD"}
	for i, q := range quotes {
		assert.Equal(t, want[i], q.Symbol)
	}
	assert.True(t, quotes[2].Failed())
	assert.Equal(t, ErrBadSymbol, quotes[2].ErrorType)
	for _, i := range []int{0, 1, 3, 4} {
		assert.NoError(t, ValidateQuote(&quotes[i]))
	}
	assert.Equal(t, "MSFT Corp", quotes[1].Name)
}

func TestYahooBatchServesCacheFirst(t *testing.T) {
	y, srv := newYahooTest(t, func(w http.ResponseWriter, r *http.Request) {
		syms := strings.Split(r.URL.Query().Get("symbols"), ",")
		writeJSON(w, yahooQuoteJSON(syms...))
	})
	ctx := context.Background()

	_, err := y.GetQuote(ctx, "AAPL")
	require.NoError(t, err)

	quotes, err := y.GetBatchQuotes(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.EqualValues(t, 2, srv.hits.Load())

	// both are cached now
	_, err = y.GetBatchQuotes(ctx, []string{"MSFT", "AAPL"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestYahooBatchUpstreamFailureMarksEverySymbol(t *testing.T) {
	y, _ := newYahooTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	quotes, err := y.GetBatchQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	for _, q := range quotes {
		assert.True(t, q.Failed())
		assert.Equal(t, ErrProvider, q.ErrorType)
	}
	assert.False(t, y.Limiter().IsSymbolBlacklisted("AAPL"))
}

func TestYahooGetQuoteUnknownSymbol(t *testing.T) {
	y, _ := newYahooTest(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, yahooQuoteJSON())
	})
	_, err := y.GetQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, ErrBadSymbol, Kind(err))
	assert.True(t, y.Limiter().IsSymbolBlacklisted("ZZZZ"))
}

func TestYahooHistorySkipsNullCloses(t *testing.T) {
	y, _ := newYahooTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		writeJSON(w, `{"chart":{"result":[{
			"timestamp":[1714521600,1714608000,1714694400],
			"indicators":{"quote":[{
				"open":[1,null,3],"high":[1,null,3],"low":[1,null,3],
				"close":[1.5,null,3.5],"volume":[10,null,30]
			}]}
		}],"error":null}}`)
	})

	bars, err := y.GetHistoricalData(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-05-01", bars[0].Date)
	assert.Equal(t, "2024-05-03", bars[1].Date)
	assert.InDelta(t, 3.5, bars[1].Close, 1e-9)
}

func TestYahooFundamentals(t *testing.T) {
	y, _ := newYahooTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v10/finance/quoteSummary/MSFT", r.URL.Path)
		writeJSON(w, `{"quoteSummary":{"result":[{
			"price":{"longName":"Microsoft Corporation","marketCap":{"raw":3100000000000,"fmt":"3.1T"}},
			"summaryDetail":{"trailingPE":{"raw":36.2},"dividendYield":{"raw":0.0072},"beta":{"raw":0.89}},
			"defaultKeyStatistics":{"trailingEps":{"raw":11.55}},
			"financialData":{"profitMargins":{"raw":0.3596},"debtToEquity":{"raw":41.3},"totalRevenue":{"raw":236584000000}},
			"assetProfile":{"sector":"Technology","industry":"Software"}
		}],"error":null}}`)
	})

	f, err := y.GetFundamentals(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.True(t, f.Complete())
	assert.Equal(t, "3.10T", f.MarketCap)
	assert.Equal(t, "36.20", f.PERatio)
	assert.Equal(t, "35.96", f.ProfitMargin)
	assert.Equal(t, "41.30", f.DebtToEquity)
	assert.Equal(t, "N/A", f.ForwardPE)
	assert.Equal(t, "Technology", f.Sector)
	assert.Equal(t, YahooName, f.DataSource)
}
