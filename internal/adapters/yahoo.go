package adapters

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
)

const YahooName = "yahoo"

// yahooChunkSize caps symbols per v7 quote request.
const yahooChunkSize = 50

// YahooAdapter talks to the unauthenticated Yahoo Finance endpoints. It is
// the only adapter with a native multi-symbol quote call.
type YahooAdapter struct {
	*base
	pace *rate.Limiter
}

// NewYahooAdapter creates a Yahoo Finance adapter. No API key is needed.
func NewYahooAdapter(cfg ProviderConfig, caches *cache.Registry) (*YahooAdapter, error) {
	if cfg.Name == "" {
		cfg.Name = YahooName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Limits.MaxCallsPerMinute <= 0 {
		cfg.Limits.MaxCallsPerMinute = 100
	}
	b, err := newBase(cfg, caches, false)
	if err != nil {
		return nil, err
	}
	return &YahooAdapter{
		base: b,
		// chunks of one batch go out at most twice a second
		pace: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}, nil
}

// yahooTicker converts "BTC/USD" to Yahoo's "BTC-USD".
func yahooTicker(sym Symbol) string {
	if sym.IsCrypto() {
		return sym.Base + "-" + sym.Quote
	}
	return sym.Ticker
}

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuote `json:"result"`
		Error  *yahooError  `json:"error"`
	} `json:"quoteResponse"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooQuote struct {
	Symbol        string   `json:"symbol"`
	LongName      string   `json:"longName"`
	ShortName     string   `json:"shortName"`
	Price         *float64 `json:"regularMarketPrice"`
	Open          *float64 `json:"regularMarketOpen"`
	High          *float64 `json:"regularMarketDayHigh"`
	Low           *float64 `json:"regularMarketDayLow"`
	Volume        *float64 `json:"regularMarketVolume"`
	Change        *float64 `json:"regularMarketChange"`
	ChangePercent *float64 `json:"regularMarketChangePercent"`
	PreviousClose *float64 `json:"regularMarketPreviousClose"`
	MarketCap     *float64 `json:"marketCap"`
	TrailingPE    *float64 `json:"trailingPE"`
	MarketTime    int64    `json:"regularMarketTime"`
}

func (yq yahooQuote) toQuote(symbol, source string) Quote {
	name := yq.LongName
	if name == "" {
		name = yq.ShortName
	}
	ts := time.Now().UTC()
	if yq.MarketTime > 0 {
		ts = time.Unix(yq.MarketTime, 0).UTC()
	}
	return Quote{
		Symbol:        symbol,
		Name:          name,
		Price:         finite(yq.Price),
		Open:          finite(yq.Open),
		High:          finite(yq.High),
		Low:           finite(yq.Low),
		Close:         finite(yq.Price),
		Volume:        finite(yq.Volume),
		Change:        finite(yq.Change),
		ChangePercent: finite(yq.ChangePercent),
		PreviousClose: finite(yq.PreviousClose),
		MarketCap:     finite(yq.MarketCap),
		TrailingPE:    finite(yq.TrailingPE),
		Timestamp:     ts,
		Source:        source,
	}
}

func finite(v *float64) *float64 {
	return normalize.ParseNumber(v)
}

// GetQuote fetches a single quote through the batch endpoint.
func (y *YahooAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	sym, err := y.admit(symbol)
	if err != nil {
		return nil, err
	}
	q, err := cache.GetOrSetAs(ctx, y.caches.Quotes(), y.key("quote", sym.Ticker), 0, func(ctx context.Context) (Quote, error) {
		var got map[string]Quote
		err := y.call(ctx, "quote", sym.Ticker, func(ctx context.Context) error {
			var ferr error
			got, ferr = y.fetchQuotes(ctx, sym.Ticker, []Symbol{sym})
			if ferr != nil {
				return ferr
			}
			if _, ok := got[sym.Ticker]; !ok {
				return y.stamp(NewBadSymbolError(sym.Ticker, "symbol not found"))
			}
			return nil
		})
		if err != nil {
			return Quote{}, err
		}
		return got[sym.Ticker], nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetBatchQuotes serves cached symbols first and fetches the rest in chunks.
// Symbols missing from the upstream answer come back as error markers.
func (y *YahooAdapter) GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	results := make(map[string]Quote, len(symbols))
	var pending []Symbol
	for _, s := range symbols {
		sym, err := y.admit(s)
		if err != nil {
			results[sym.Ticker] = UnavailableQuote(sym.Ticker, err)
			continue
		}
		if v, ok := y.caches.Quotes().Get(y.key("quote", sym.Ticker)); ok {
			if q, ok := v.(Quote); ok {
				results[sym.Ticker] = q
				continue
			}
		}
		pending = append(pending, sym)
	}

	for start := 0; start < len(pending); start += yahooChunkSize {
		chunk := pending[start:min(start+yahooChunkSize, len(pending))]
		if start > 0 {
			if err := y.pace.Wait(ctx); err != nil {
				return nil, err
			}
		}
		label := strconv.Itoa(len(chunk)) + " symbols"
		var got map[string]Quote
		err := y.call(ctx, "batch_quote", label, func(ctx context.Context) error {
			var ferr error
			got, ferr = y.fetchQuotes(ctx, label, chunk)
			return ferr
		})
		for _, sym := range chunk {
			switch q, ok := got[sym.Ticker]; {
			case err != nil:
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, err)
			case !ok:
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, y.stamp(NewBadSymbolError(sym.Ticker, "symbol not found")))
			default:
				y.caches.Quotes().Set(y.key("quote", sym.Ticker), q, 0)
				results[sym.Ticker] = q
			}
		}
	}

	out := make([]Quote, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, results[NormalizeSymbol(s)])
	}
	return out, nil
}

// fetchQuotes calls v7/finance/quote and keys the results by our ticker form.
func (y *YahooAdapter) fetchQuotes(ctx context.Context, label string, syms []Symbol) (map[string]Quote, error) {
	byRemote := make(map[string]string, len(syms))
	remote := make([]string, 0, len(syms))
	for _, s := range syms {
		t := yahooTicker(s)
		byRemote[t] = s.Ticker
		remote = append(remote, t)
	}
	var resp yahooQuoteResponse
	if err := y.getJSON(ctx, label, "/v7/finance/quote", url.Values{"symbols": {strings.Join(remote, ",")}}, &resp); err != nil {
		return nil, err
	}
	if e := resp.QuoteResponse.Error; e != nil {
		return nil, y.stamp(NewProviderError(label, e.Code+": "+e.Description, nil))
	}
	out := make(map[string]Quote, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		ticker, ok := byRemote[strings.ToUpper(r.Symbol)]
		if !ok || r.Price == nil {
			continue
		}
		out[ticker] = r.toQuote(ticker, y.name)
	}
	return out, nil
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

// GetHistoricalData returns daily bars from the v8 chart endpoint. Bars with
// a null close are skipped.
func (y *YahooAdapter) GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error) {
	sym, err := y.admit(symbol)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSetAs(ctx, y.caches.History(), y.key("history", sym.Ticker+"_"+strconv.Itoa(days)), 0, func(ctx context.Context) ([]OHLCV, error) {
		now := time.Now().UTC()
		params := url.Values{
			"period1":  {strconv.FormatInt(now.AddDate(0, 0, -days-7).Unix(), 10)},
			"period2":  {strconv.FormatInt(now.Unix(), 10)},
			"interval": {"1d"},
		}
		var resp yahooChartResponse
		err := y.call(ctx, "history", sym.Ticker, func(ctx context.Context) error {
			if err := y.getJSON(ctx, sym.Ticker, "/v8/finance/chart/"+url.PathEscape(yahooTicker(sym)), params, &resp); err != nil {
				return err
			}
			if e := resp.Chart.Error; e != nil {
				return y.stamp(NewBadSymbolError(sym.Ticker, e.Description))
			}
			if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
				return y.stamp(NewBadSymbolError(sym.Ticker, "no chart data returned"))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		r := resp.Chart.Result[0]
		ind := r.Indicators.Quote[0]
		at := func(s []*float64, i int) float64 {
			if i < len(s) {
				return deref(finite(s[i]))
			}
			return 0
		}
		bars := make([]OHLCV, 0, len(r.Timestamp))
		for i, ts := range r.Timestamp {
			if i >= len(ind.Close) || ind.Close[i] == nil {
				continue
			}
			bars = append(bars, OHLCV{
				Date:   time.Unix(ts, 0).UTC().Format("2006-01-02"),
				Open:   at(ind.Open, i),
				High:   at(ind.High, i),
				Low:    at(ind.Low, i),
				Close:  at(ind.Close, i),
				Volume: at(ind.Volume, i),
			})
		}
		return trimHistory(bars, days), nil
	})
}

// yval is Yahoo's {"raw": 1.23, "fmt": "1.23"} number wrapper.
type yval struct {
	Raw *float64 `json:"raw"`
}

type yahooSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
				MarketCap yval   `json:"marketCap"`
			} `json:"price"`
			SummaryDetail struct {
				TrailingPE       yval `json:"trailingPE"`
				ForwardPE        yval `json:"forwardPE"`
				DividendYield    yval `json:"dividendYield"`
				Beta             yval `json:"beta"`
				FiftyTwoWeekHigh yval `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  yval `json:"fiftyTwoWeekLow"`
			} `json:"summaryDetail"`
			KeyStatistics struct {
				TrailingEps yval `json:"trailingEps"`
			} `json:"defaultKeyStatistics"`
			FinancialData struct {
				ProfitMargins    yval `json:"profitMargins"`
				OperatingMargins yval `json:"operatingMargins"`
				ReturnOnEquity   yval `json:"returnOnEquity"`
				ReturnOnAssets   yval `json:"returnOnAssets"`
				DebtToEquity     yval `json:"debtToEquity"`
				TotalRevenue     yval `json:"totalRevenue"`
			} `json:"financialData"`
			AssetProfile struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
			} `json:"assetProfile"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"quoteSummary"`
}

const yahooSummaryModules = "price,summaryDetail,defaultKeyStatistics,financialData,assetProfile"

// GetFundamentals reads the quoteSummary modules. Yahoo reports debt/equity
// as a percentage, which NormalizeRatio rescales.
func (y *YahooAdapter) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sym, err := y.admit(symbol)
	if err != nil {
		return nil, err
	}
	if sym.IsCrypto() {
		return nil, y.stamp(NewUnavailableError(sym.Ticker, "fundamentals not available for crypto"))
	}
	f, err := cache.GetOrSetAs(ctx, y.caches.Fundamentals(), y.key("fundamentals", sym.Ticker), 0, func(ctx context.Context) (Fundamentals, error) {
		var resp yahooSummaryResponse
		err := y.call(ctx, "fundamentals", sym.Ticker, func(ctx context.Context) error {
			path := "/v10/finance/quoteSummary/" + url.PathEscape(sym.Ticker)
			if err := y.getJSON(ctx, sym.Ticker, path, url.Values{"modules": {yahooSummaryModules}}, &resp); err != nil {
				return err
			}
			if e := resp.QuoteSummary.Error; e != nil {
				return y.stamp(NewBadSymbolError(sym.Ticker, e.Description))
			}
			if len(resp.QuoteSummary.Result) == 0 {
				return y.stamp(NewBadSymbolError(sym.Ticker, "no summary returned"))
			}
			return nil
		})
		if err != nil {
			return Fundamentals{}, err
		}
		r := resp.QuoteSummary.Result[0]
		name := r.Price.LongName
		if name == "" {
			name = r.Price.ShortName
		}
		f := fundamentalFields{
			Name:            name,
			Sector:          r.AssetProfile.Sector,
			Industry:        r.AssetProfile.Industry,
			MarketCap:       r.Price.MarketCap.Raw,
			PERatio:         r.SummaryDetail.TrailingPE.Raw,
			ForwardPE:       r.SummaryDetail.ForwardPE.Raw,
			EPS:             r.KeyStatistics.TrailingEps.Raw,
			ProfitMargin:    r.FinancialData.ProfitMargins.Raw,
			OperatingMargin: r.FinancialData.OperatingMargins.Raw,
			ReturnOnEquity:  r.FinancialData.ReturnOnEquity.Raw,
			ReturnOnAssets:  r.FinancialData.ReturnOnAssets.Raw,
			DebtToEquity:    r.FinancialData.DebtToEquity.Raw,
			DividendYield:   r.SummaryDetail.DividendYield.Raw,
			Beta:            r.SummaryDetail.Beta.Raw,
			Revenue:         r.FinancialData.TotalRevenue.Raw,
			Week52High:      r.SummaryDetail.FiftyTwoWeekHigh.Raw,
			Week52Low:       r.SummaryDetail.FiftyTwoWeekLow.Raw,
		}.build(sym.Ticker)
		f.DataSource = y.name
		return *f, nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}
