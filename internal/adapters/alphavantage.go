package adapters

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
)

const AlphaVantageName = "alphavantage"

// AlphaVantageAdapter serves quotes, fundamentals and daily history from
// Alpha Vantage. The free tier allows 5 calls per minute.
type AlphaVantageAdapter struct {
	*base
}

// NewAlphaVantageAdapter creates a new Alpha Vantage adapter. An API key is required.
func NewAlphaVantageAdapter(cfg ProviderConfig, caches *cache.Registry) (*AlphaVantageAdapter, error) {
	if cfg.Name == "" {
		cfg.Name = AlphaVantageName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.Limits.MaxCallsPerMinute <= 0 {
		cfg.Limits.MaxCallsPerMinute = 5
	}
	b, err := newBase(cfg, caches, true)
	if err != nil {
		return nil, err
	}
	return &AlphaVantageAdapter{base: b}, nil
}

// avEnvelope carries the messages Alpha Vantage embeds in HTTP 200 bodies.
type avEnvelope struct {
	ErrorMessage string `json:"Error Message"`
	Information  string `json:"Information"`
	Note         string `json:"Note"`
}

func (e avEnvelope) check(provider, symbol string) error {
	switch {
	case e.ErrorMessage != "":
		err := NewBadSymbolError(symbol, e.ErrorMessage)
		err.Provider = provider
		return err
	case e.Note != "" || e.Information != "":
		msg := e.Note
		if msg == "" {
			msg = e.Information
		}
		err := NewRateLimitError(symbol, msg)
		err.Provider = provider
		return err
	}
	return nil
}

func (av *AlphaVantageAdapter) query(ctx context.Context, symbol string, params url.Values, out any) error {
	params.Set("apikey", av.apiKey)
	var raw json.RawMessage
	if err := av.getJSON(ctx, symbol, "/query", params, &raw); err != nil {
		return err
	}
	var env avEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if err := env.check(av.name, symbol); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return av.stamp(NewParseError(symbol, "unexpected response shape", err))
	}
	return nil
}

type avGlobalQuote struct {
	Quote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		LatestDay     string `json:"07. latest trading day"`
		PreviousClose string `json:"08. previous close"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

type avExchangeRate struct {
	Rate struct {
		From          string `json:"1. From_Currency Code"`
		To            string `json:"3. To_Currency Code"`
		ExchangeRate  string `json:"5. Exchange Rate"`
		LastRefreshed string `json:"6. Last Refreshed"`
	} `json:"Realtime Currency Exchange Rate"`
}

// GetQuote fetches a single quote
func (av *AlphaVantageAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	sym, err := av.admit(symbol)
	if err != nil {
		return nil, err
	}
	ns, kind := av.caches.Quotes(), "quote"
	if sym.IsCrypto() {
		ns, kind = av.caches.Exchange(), "fx"
	}
	q, err := cache.GetOrSetAs(ctx, ns, av.key(kind, sym.Ticker), 0, func(ctx context.Context) (Quote, error) {
		var q *Quote
		err := av.call(ctx, "quote", sym.Ticker, func(ctx context.Context) error {
			var ferr error
			if sym.IsCrypto() {
				q, ferr = av.fetchCrypto(ctx, sym)
			} else {
				q, ferr = av.fetchEquity(ctx, sym)
			}
			return ferr
		})
		if err != nil {
			return Quote{}, err
		}
		return *q, nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (av *AlphaVantageAdapter) fetchEquity(ctx context.Context, sym Symbol) (*Quote, error) {
	var resp avGlobalQuote
	params := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {sym.Ticker}}
	if err := av.query(ctx, sym.Ticker, params, &resp); err != nil {
		return nil, err
	}
	gq := resp.Quote
	if gq.Symbol == "" || gq.Price == "" {
		return nil, av.stamp(NewBadSymbolError(sym.Ticker, "no quote data returned"))
	}
	q := &Quote{
		Symbol:        sym.Ticker,
		Price:         normalize.ParseNumber(gq.Price),
		Open:          normalize.ParseNumber(gq.Open),
		High:          normalize.ParseNumber(gq.High),
		Low:           normalize.ParseNumber(gq.Low),
		Close:         normalize.ParseNumber(gq.Price),
		Volume:        normalize.ParseNumber(gq.Volume),
		Change:        normalize.ParseNumber(gq.Change),
		ChangePercent: normalize.ParseNumber(gq.ChangePercent),
		PreviousClose: normalize.ParseNumber(gq.PreviousClose),
		Timestamp:     time.Now().UTC(),
		Source:        av.name,
	}
	return q, nil
}

func (av *AlphaVantageAdapter) fetchCrypto(ctx context.Context, sym Symbol) (*Quote, error) {
	var resp avExchangeRate
	params := url.Values{
		"function":      {"CURRENCY_EXCHANGE_RATE"},
		"from_currency": {sym.Base},
		"to_currency":   {sym.Quote},
	}
	if err := av.query(ctx, sym.Ticker, params, &resp); err != nil {
		return nil, err
	}
	price := normalize.ParseNumber(resp.Rate.ExchangeRate)
	if price == nil {
		return nil, av.stamp(NewBadSymbolError(sym.Ticker, "no exchange rate returned"))
	}
	ts := time.Now().UTC()
	if t, err := time.Parse("2006-01-02 15:04:05", resp.Rate.LastRefreshed); err == nil && t.Before(ts) {
		ts = t
	}
	return &Quote{
		Symbol:    sym.Ticker,
		Name:      sym.Base + " / " + sym.Quote,
		Price:     price,
		Close:     price,
		Timestamp: ts,
		Source:    av.name,
	}, nil
}

// GetBatchQuotes has no native endpoint on Alpha Vantage; symbols are
// fetched one at a time under the same limiter.
func (av *AlphaVantageAdapter) GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	return batchViaSingle(ctx, av, symbols), nil
}

type avOverview struct {
	Symbol          string `json:"Symbol"`
	Name            string `json:"Name"`
	Sector          string `json:"Sector"`
	Industry        string `json:"Industry"`
	MarketCap       string `json:"MarketCapitalization"`
	PERatio         string `json:"PERatio"`
	ForwardPE       string `json:"ForwardPE"`
	EPS             string `json:"EPS"`
	ProfitMargin    string `json:"ProfitMargin"`
	OperatingMargin string `json:"OperatingMarginTTM"`
	ReturnOnEquity  string `json:"ReturnOnEquityTTM"`
	ReturnOnAssets  string `json:"ReturnOnAssetsTTM"`
	DividendYield   string `json:"DividendYield"`
	Beta            string `json:"Beta"`
	Revenue         string `json:"RevenueTTM"`
	Week52High      string `json:"52WeekHigh"`
	Week52Low       string `json:"52WeekLow"`
}

// GetFundamentals fetches the company overview.
func (av *AlphaVantageAdapter) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sym, err := av.admit(symbol)
	if err != nil {
		return nil, err
	}
	if sym.IsCrypto() {
		return nil, av.stamp(NewUnavailableError(sym.Ticker, "fundamentals not available for crypto"))
	}
	f, err := cache.GetOrSetAs(ctx, av.caches.Fundamentals(), av.key("fundamentals", sym.Ticker), 0, func(ctx context.Context) (Fundamentals, error) {
		var ov avOverview
		err := av.call(ctx, "fundamentals", sym.Ticker, func(ctx context.Context) error {
			if err := av.query(ctx, sym.Ticker, url.Values{"function": {"OVERVIEW"}, "symbol": {sym.Ticker}}, &ov); err != nil {
				return err
			}
			if ov.Symbol == "" {
				return av.stamp(NewBadSymbolError(sym.Ticker, "no overview data returned"))
			}
			return nil
		})
		if err != nil {
			return Fundamentals{}, err
		}
		f := fundamentalFields{
			Name:            ov.Name,
			Sector:          ov.Sector,
			Industry:        ov.Industry,
			MarketCap:       ov.MarketCap,
			PERatio:         ov.PERatio,
			ForwardPE:       ov.ForwardPE,
			EPS:             ov.EPS,
			ProfitMargin:    ov.ProfitMargin,
			OperatingMargin: ov.OperatingMargin,
			ReturnOnEquity:  ov.ReturnOnEquity,
			ReturnOnAssets:  ov.ReturnOnAssets,
			DividendYield:   ov.DividendYield,
			Beta:            ov.Beta,
			Revenue:         ov.Revenue,
			Week52High:      ov.Week52High,
			Week52Low:       ov.Week52Low,
		}.build(sym.Ticker)
		f.DataSource = av.name
		return *f, nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

type avDailySeries struct {
	Series map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

// GetHistoricalData returns up to days daily bars, oldest first.
func (av *AlphaVantageAdapter) GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error) {
	sym, err := av.admit(symbol)
	if err != nil {
		return nil, err
	}
	if sym.IsCrypto() {
		return nil, av.stamp(NewUnavailableError(sym.Ticker, "daily history not available for crypto"))
	}
	return cache.GetOrSetAs(ctx, av.caches.History(), av.key("history", sym.Ticker+"_"+strconv.Itoa(days)), 0, func(ctx context.Context) ([]OHLCV, error) {
		outputSize := "compact"
		if days > 100 {
			outputSize = "full"
		}
		var ts avDailySeries
		err := av.call(ctx, "history", sym.Ticker, func(ctx context.Context) error {
			params := url.Values{"function": {"TIME_SERIES_DAILY"}, "symbol": {sym.Ticker}, "outputsize": {outputSize}}
			if err := av.query(ctx, sym.Ticker, params, &ts); err != nil {
				return err
			}
			if len(ts.Series) == 0 {
				return av.stamp(NewBadSymbolError(sym.Ticker, "no time series returned"))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		dates := make([]string, 0, len(ts.Series))
		for d := range ts.Series {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		bars := make([]OHLCV, 0, len(dates))
		for _, d := range dates {
			row := ts.Series[d]
			bars = append(bars, OHLCV{
				Date:   d,
				Open:   deref(normalize.ParseNumber(row.Open)),
				High:   deref(normalize.ParseNumber(row.High)),
				Low:    deref(normalize.ParseNumber(row.Low)),
				Close:  deref(normalize.ParseNumber(row.Close)),
				Volume: deref(normalize.ParseNumber(row.Volume)),
			})
		}
		return trimHistory(bars, days), nil
	})
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
