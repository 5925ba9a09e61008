package adapters

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
)

const TwelveDataName = "twelvedata"

const twelveDataChunkSize = 8

// TwelveDataAdapter talks to api.twelvedata.com. Errors arrive as HTTP 200
// with {"status":"error","code":...} in the body.
type TwelveDataAdapter struct {
	*base
}

// NewTwelveDataAdapter creates a Twelve Data adapter. An API key is required.
func NewTwelveDataAdapter(cfg ProviderConfig, caches *cache.Registry) (*TwelveDataAdapter, error) {
	if cfg.Name == "" {
		cfg.Name = TwelveDataName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twelvedata.com"
	}
	if cfg.Limits.MaxCallsPerMinute <= 0 {
		cfg.Limits.MaxCallsPerMinute = 8
	}
	b, err := newBase(cfg, caches, true)
	if err != nil {
		return nil, err
	}
	return &TwelveDataAdapter{base: b}, nil
}

type tdStatus struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// err maps an in-body error to a QuoteError, or nil when status is not "error".
func (s tdStatus) err(provider, symbol string) error {
	if s.Status != "error" {
		return nil
	}
	var qe *QuoteError
	switch s.Code {
	case 429:
		qe = NewRateLimitError(symbol, s.Message)
	case 400, 404:
		qe = NewBadSymbolError(symbol, s.Message)
	default:
		qe = NewProviderError(symbol, strconv.Itoa(s.Code)+": "+s.Message, nil)
	}
	qe.Provider = provider
	return qe
}

type tdQuote struct {
	tdStatus
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Timestamp     int64  `json:"timestamp"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	PreviousClose string `json:"previous_close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
}

func (t tdQuote) toQuote(symbol, source string) (Quote, bool) {
	price := normalize.ParseNumber(t.Close)
	if price == nil {
		return Quote{}, false
	}
	ts := time.Now().UTC()
	if t.Timestamp > 0 {
		ts = time.Unix(t.Timestamp, 0).UTC()
	}
	return Quote{
		Symbol:        symbol,
		Name:          t.Name,
		Price:         price,
		Open:          normalize.ParseNumber(t.Open),
		High:          normalize.ParseNumber(t.High),
		Low:           normalize.ParseNumber(t.Low),
		Close:         price,
		Volume:        normalize.ParseNumber(t.Volume),
		Change:        normalize.ParseNumber(t.Change),
		ChangePercent: normalize.ParseNumber(t.PercentChange),
		PreviousClose: normalize.ParseNumber(t.PreviousClose),
		Timestamp:     ts,
		Source:        source,
	}, true
}

// GetQuote fetches a single quote. Crypto pairs use the native "BTC/USD" form.
func (td *TwelveDataAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	sym, err := td.admit(symbol)
	if err != nil {
		return nil, err
	}
	q, err := cache.GetOrSetAs(ctx, td.caches.Quotes(), td.key("quote", sym.Ticker), 0, func(ctx context.Context) (Quote, error) {
		var q Quote
		err := td.call(ctx, "quote", sym.Ticker, func(ctx context.Context) error {
			var raw tdQuote
			params := url.Values{"symbol": {sym.Ticker}, "apikey": {td.apiKey}}
			if err := td.getJSON(ctx, sym.Ticker, "/quote", params, &raw); err != nil {
				return err
			}
			if err := raw.err(td.name, sym.Ticker); err != nil {
				return err
			}
			var ok bool
			if q, ok = raw.toQuote(sym.Ticker, td.name); !ok {
				return td.stamp(NewBadSymbolError(sym.Ticker, "no price returned"))
			}
			return nil
		})
		return q, err
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetBatchQuotes sends comma separated symbols. The answer is keyed by
// symbol and each entry may carry its own error status.
func (td *TwelveDataAdapter) GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	results := make(map[string]Quote, len(symbols))
	var pending []Symbol
	for _, s := range symbols {
		sym, err := td.admit(s)
		if err != nil {
			results[sym.Ticker] = UnavailableQuote(sym.Ticker, err)
			continue
		}
		if v, ok := td.caches.Quotes().Get(td.key("quote", sym.Ticker)); ok {
			if q, ok := v.(Quote); ok {
				results[sym.Ticker] = q
				continue
			}
		}
		pending = append(pending, sym)
	}

	for start := 0; start < len(pending); start += twelveDataChunkSize {
		chunk := pending[start:min(start+twelveDataChunkSize, len(pending))]
		tickers := make([]string, 0, len(chunk))
		for _, s := range chunk {
			tickers = append(tickers, s.Ticker)
		}
		label := strconv.Itoa(len(chunk)) + " symbols"
		entries := make(map[string]tdQuote, len(chunk))
		err := td.call(ctx, "batch_quote", label, func(ctx context.Context) error {
			params := url.Values{"symbol": {strings.Join(tickers, ",")}, "apikey": {td.apiKey}}
			var raw json.RawMessage
			if err := td.getJSON(ctx, label, "/quote", params, &raw); err != nil {
				return err
			}
			if len(chunk) == 1 {
				var one tdQuote
				if err := json.Unmarshal(raw, &one); err != nil {
					return td.stamp(NewParseError(label, "unexpected quote shape", err))
				}
				entries[chunk[0].Ticker] = one
				return nil
			}
			var top tdStatus
			if err := json.Unmarshal(raw, &top); err == nil {
				if err := top.err(td.name, label); err != nil {
					return err
				}
			}
			var many map[string]tdQuote
			if err := json.Unmarshal(raw, &many); err != nil {
				return td.stamp(NewParseError(label, "unexpected batch shape", err))
			}
			for k, v := range many {
				entries[strings.ToUpper(k)] = v
			}
			return nil
		})
		for _, sym := range chunk {
			if err != nil {
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, err)
				continue
			}
			entry, ok := entries[sym.Ticker]
			if !ok {
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, td.stamp(NewBadSymbolError(sym.Ticker, "symbol not found")))
				continue
			}
			if serr := entry.err(td.name, sym.Ticker); serr != nil {
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, serr)
				continue
			}
			q, ok := entry.toQuote(sym.Ticker, td.name)
			if !ok {
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, td.stamp(NewBadSymbolError(sym.Ticker, "no price returned")))
				continue
			}
			td.caches.Quotes().Set(td.key("quote", sym.Ticker), q, 0)
			results[sym.Ticker] = q
		}
	}

	out := make([]Quote, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, results[NormalizeSymbol(s)])
	}
	return out, nil
}

type tdTimeSeries struct {
	tdStatus
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

// GetHistoricalData returns daily bars. Twelve Data answers newest first.
func (td *TwelveDataAdapter) GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error) {
	sym, err := td.admit(symbol)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSetAs(ctx, td.caches.History(), td.key("history", sym.Ticker+"_"+strconv.Itoa(days)), 0, func(ctx context.Context) ([]OHLCV, error) {
		var ts tdTimeSeries
		err := td.call(ctx, "history", sym.Ticker, func(ctx context.Context) error {
			params := url.Values{
				"symbol":     {sym.Ticker},
				"interval":   {"1day"},
				"outputsize": {strconv.Itoa(days)},
				"apikey":     {td.apiKey},
			}
			if err := td.getJSON(ctx, sym.Ticker, "/time_series", params, &ts); err != nil {
				return err
			}
			if err := ts.err(td.name, sym.Ticker); err != nil {
				return err
			}
			if len(ts.Values) == 0 {
				return td.stamp(NewBadSymbolError(sym.Ticker, "no bars returned"))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		bars := make([]OHLCV, 0, len(ts.Values))
		for i := len(ts.Values) - 1; i >= 0; i-- {
			v := ts.Values[i]
			date := v.Datetime
			if len(date) > 10 {
				date = date[:10]
			}
			bars = append(bars, OHLCV{
				Date:   date,
				Open:   deref(normalize.ParseNumber(v.Open)),
				High:   deref(normalize.ParseNumber(v.High)),
				Low:    deref(normalize.ParseNumber(v.Low)),
				Close:  deref(normalize.ParseNumber(v.Close)),
				Volume: deref(normalize.ParseNumber(v.Volume)),
			})
		}
		return trimHistory(bars, days), nil
	})
}

type tdStatistics struct {
	tdStatus
	Meta struct {
		Name string `json:"name"`
	} `json:"meta"`
	Statistics struct {
		Valuations struct {
			MarketCap  any `json:"market_capitalization"`
			TrailingPE any `json:"trailing_pe"`
			ForwardPE  any `json:"forward_pe"`
		} `json:"valuations_metrics"`
		Financials struct {
			ProfitMargin    any `json:"profit_margin"`
			OperatingMargin any `json:"operating_margin"`
			ReturnOnAssets  any `json:"return_on_assets_ttm"`
			ReturnOnEquity  any `json:"return_on_equity_ttm"`
			Income          struct {
				Revenue any `json:"revenue_ttm"`
				EPS     any `json:"diluted_eps_ttm"`
			} `json:"income_statement"`
			BalanceSheet struct {
				DebtToEquity any `json:"total_debt_to_equity_mrq"`
			} `json:"balance_sheet"`
		} `json:"financials"`
		PriceSummary struct {
			Beta       any `json:"beta"`
			Week52High any `json:"fifty_two_week_high"`
			Week52Low  any `json:"fifty_two_week_low"`
		} `json:"stock_price_summary"`
		Dividends struct {
			Yield any `json:"forward_annual_dividend_yield"`
		} `json:"dividends_and_splits"`
	} `json:"statistics"`
}

// GetFundamentals reads the /statistics endpoint.
func (td *TwelveDataAdapter) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sym, err := td.admit(symbol)
	if err != nil {
		return nil, err
	}
	if sym.IsCrypto() {
		return nil, td.stamp(NewUnavailableError(sym.Ticker, "fundamentals not available for crypto"))
	}
	f, err := cache.GetOrSetAs(ctx, td.caches.Fundamentals(), td.key("fundamentals", sym.Ticker), 0, func(ctx context.Context) (Fundamentals, error) {
		var st tdStatistics
		err := td.call(ctx, "fundamentals", sym.Ticker, func(ctx context.Context) error {
			params := url.Values{"symbol": {sym.Ticker}, "apikey": {td.apiKey}}
			if err := td.getJSON(ctx, sym.Ticker, "/statistics", params, &st); err != nil {
				return err
			}
			return st.err(td.name, sym.Ticker)
		})
		if err != nil {
			return Fundamentals{}, err
		}
		s := st.Statistics
		f := fundamentalFields{
			Name:            st.Meta.Name,
			MarketCap:       s.Valuations.MarketCap,
			PERatio:         s.Valuations.TrailingPE,
			ForwardPE:       s.Valuations.ForwardPE,
			EPS:             s.Financials.Income.EPS,
			ProfitMargin:    s.Financials.ProfitMargin,
			OperatingMargin: s.Financials.OperatingMargin,
			ReturnOnEquity:  s.Financials.ReturnOnEquity,
			ReturnOnAssets:  s.Financials.ReturnOnAssets,
			DebtToEquity:    s.Financials.BalanceSheet.DebtToEquity,
			DividendYield:   s.Dividends.Yield,
			Beta:            s.PriceSummary.Beta,
			Revenue:         s.Financials.Income.Revenue,
			Week52High:      s.PriceSummary.Week52High,
			Week52Low:       s.PriceSummary.Week52Low,
		}.build(sym.Ticker)
		f.DataSource = td.name
		return *f, nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}
