package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
)

const EODHDName = "eodhd"

const eodhdChunkSize = 15

// EODHDAdapter talks to eodhd.com. Tickers carry an exchange suffix:
// "AAPL.US" for equities and "BTC-USD.CC" for crypto.
type EODHDAdapter struct {
	*base
}

// NewEODHDAdapter creates an EODHD adapter. An API token is required.
func NewEODHDAdapter(cfg ProviderConfig, caches *cache.Registry) (*EODHDAdapter, error) {
	if cfg.Name == "" {
		cfg.Name = EODHDName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://eodhd.com/api"
	}
	if cfg.Limits.MaxCallsPerMinute <= 0 {
		cfg.Limits.MaxCallsPerMinute = 60
	}
	b, err := newBase(cfg, caches, true)
	if err != nil {
		return nil, err
	}
	return &EODHDAdapter{base: b}, nil
}

func eodhdTicker(sym Symbol) string {
	if sym.IsCrypto() {
		return sym.Base + "-" + sym.Quote + ".CC"
	}
	if strings.Contains(sym.Ticker, ".") {
		return sym.Ticker
	}
	return sym.Ticker + ".US"
}

func (e *EODHDAdapter) params(extra url.Values) url.Values {
	q := url.Values{"api_token": {e.apiKey}, "fmt": {"json"}}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

func (e *EODHDAdapter) quoteFromRealtime(ticker string, row map[string]any) (Quote, bool) {
	price := normalize.ParseNumber(row["close"])
	if price == nil {
		return Quote{}, false
	}
	ts := time.Now().UTC()
	if t := normalize.ParseNumber(row["timestamp"]); t != nil && *t > 0 {
		ts = time.Unix(int64(*t), 0).UTC()
	}
	return Quote{
		Symbol:        ticker,
		Price:         price,
		Open:          normalize.ParseNumber(row["open"]),
		High:          normalize.ParseNumber(row["high"]),
		Low:           normalize.ParseNumber(row["low"]),
		Close:         price,
		Volume:        normalize.ParseNumber(row["volume"]),
		Change:        normalize.ParseNumber(row["change"]),
		ChangePercent: normalize.ParseNumber(row["change_p"]),
		PreviousClose: normalize.ParseNumber(row["previousClose"]),
		Timestamp:     ts,
		Source:        e.name,
	}, true
}

// GetQuote fetches a real-time (15 minute delayed) quote.
func (e *EODHDAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	sym, err := e.admit(symbol)
	if err != nil {
		return nil, err
	}
	q, err := cache.GetOrSetAs(ctx, e.caches.Quotes(), e.key("quote", sym.Ticker), 0, func(ctx context.Context) (Quote, error) {
		var q Quote
		err := e.call(ctx, "quote", sym.Ticker, func(ctx context.Context) error {
			var row map[string]any
			if err := e.getJSON(ctx, sym.Ticker, "/real-time/"+url.PathEscape(eodhdTicker(sym)), e.params(nil), &row); err != nil {
				return err
			}
			var ok bool
			if q, ok = e.quoteFromRealtime(sym.Ticker, row); !ok {
				return e.stamp(NewBadSymbolError(sym.Ticker, "no price returned"))
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

// GetBatchQuotes uses the real-time endpoint's "s" parameter. EODHD answers
// with an object for one symbol and an array for several.
func (e *EODHDAdapter) GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	results := make(map[string]Quote, len(symbols))
	var pending []Symbol
	for _, s := range symbols {
		sym, err := e.admit(s)
		if err != nil {
			results[sym.Ticker] = UnavailableQuote(sym.Ticker, err)
			continue
		}
		if v, ok := e.caches.Quotes().Get(e.key("quote", sym.Ticker)); ok {
			if q, ok := v.(Quote); ok {
				results[sym.Ticker] = q
				continue
			}
		}
		pending = append(pending, sym)
	}

	for start := 0; start < len(pending); start += eodhdChunkSize {
		chunk := pending[start:min(start+eodhdChunkSize, len(pending))]
		byRemote := make(map[string]string, len(chunk))
		for _, s := range chunk {
			byRemote[eodhdTicker(s)] = s.Ticker
		}
		label := strconv.Itoa(len(chunk)) + " symbols"
		got := make(map[string]Quote, len(chunk))
		err := e.call(ctx, "batch_quote", label, func(ctx context.Context) error {
			extra := url.Values{}
			if len(chunk) > 1 {
				rest := make([]string, 0, len(chunk)-1)
				for _, s := range chunk[1:] {
					rest = append(rest, eodhdTicker(s))
				}
				extra.Set("s", strings.Join(rest, ","))
			}
			var raw json.RawMessage
			if err := e.getJSON(ctx, label, "/real-time/"+url.PathEscape(eodhdTicker(chunk[0])), e.params(extra), &raw); err != nil {
				return err
			}
			var rows []map[string]any
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
				if err := json.Unmarshal(trimmed, &rows); err != nil {
					return e.stamp(NewParseError(label, "unexpected batch shape", err))
				}
			} else {
				var row map[string]any
				if err := json.Unmarshal(trimmed, &row); err != nil {
					return e.stamp(NewParseError(label, "unexpected batch shape", err))
				}
				rows = append(rows, row)
			}
			for _, row := range rows {
				code, _ := row["code"].(string)
				ticker, ok := byRemote[strings.ToUpper(code)]
				if !ok {
					continue
				}
				if q, ok := e.quoteFromRealtime(ticker, row); ok {
					got[ticker] = q
				}
			}
			return nil
		})
		for _, sym := range chunk {
			switch q, ok := got[sym.Ticker]; {
			case err != nil:
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, err)
			case !ok:
				results[sym.Ticker] = UnavailableQuote(sym.Ticker, e.stamp(NewBadSymbolError(sym.Ticker, "symbol not found")))
			default:
				e.caches.Quotes().Set(e.key("quote", sym.Ticker), q, 0)
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

type eodhdBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// GetHistoricalData returns end-of-day bars, oldest first.
func (e *EODHDAdapter) GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error) {
	sym, err := e.admit(symbol)
	if err != nil {
		return nil, err
	}
	return cache.GetOrSetAs(ctx, e.caches.History(), e.key("history", sym.Ticker+"_"+strconv.Itoa(days)), 0, func(ctx context.Context) ([]OHLCV, error) {
		now := time.Now().UTC()
		extra := url.Values{
			"from":   {now.AddDate(0, 0, -days-7).Format("2006-01-02")},
			"to":     {now.Format("2006-01-02")},
			"period": {"d"},
		}
		var rows []eodhdBar
		err := e.call(ctx, "history", sym.Ticker, func(ctx context.Context) error {
			if err := e.getJSON(ctx, sym.Ticker, "/eod/"+url.PathEscape(eodhdTicker(sym)), e.params(extra), &rows); err != nil {
				return err
			}
			if len(rows) == 0 {
				return e.stamp(NewBadSymbolError(sym.Ticker, "no bars returned"))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		bars := make([]OHLCV, 0, len(rows))
		for _, r := range rows {
			bars = append(bars, OHLCV(r))
		}
		return trimHistory(bars, days), nil
	})
}

// eodhdPaths locates each metric in the fundamentals document.
var eodhdPaths = map[string]string{
	"name":            "$.General.Name",
	"sector":          "$.General.Sector",
	"industry":        "$.General.Industry",
	"marketCap":       "$.Highlights.MarketCapitalization",
	"peRatio":         "$.Highlights.PERatio",
	"forwardPE":       "$.Valuation.ForwardPE",
	"eps":             "$.Highlights.EarningsShare",
	"profitMargin":    "$.Highlights.ProfitMargin",
	"operatingMargin": "$.Highlights.OperatingMarginTTM",
	"returnOnEquity":  "$.Highlights.ReturnOnEquityTTM",
	"returnOnAssets":  "$.Highlights.ReturnOnAssetsTTM",
	"dividendYield":   "$.Highlights.DividendYield",
	"beta":            "$.Technicals.Beta",
	"revenue":         "$.Highlights.RevenueTTM",
	"week52High":      `$.Technicals["52WeekHigh"]`,
	"week52Low":       `$.Technicals["52WeekLow"]`,
}

// lookup evaluates a JSONPath against doc. jsonpath may answer with a one
// element list; the first element is kept.
func lookup(doc any, path string) any {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		v = list[0]
	}
	return v
}

func lookupString(doc any, path string) string {
	s, _ := lookup(doc, path).(string)
	return s
}

// GetFundamentals reads the fundamentals document for an equity.
func (e *EODHDAdapter) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sym, err := e.admit(symbol)
	if err != nil {
		return nil, err
	}
	if sym.IsCrypto() {
		return nil, e.stamp(NewUnavailableError(sym.Ticker, "fundamentals not available for crypto"))
	}
	f, err := cache.GetOrSetAs(ctx, e.caches.Fundamentals(), e.key("fundamentals", sym.Ticker), 0, func(ctx context.Context) (Fundamentals, error) {
		var doc any
		err := e.call(ctx, "fundamentals", sym.Ticker, func(ctx context.Context) error {
			if err := e.getJSON(ctx, sym.Ticker, "/fundamentals/"+url.PathEscape(eodhdTicker(sym)), e.params(nil), &doc); err != nil {
				return err
			}
			if m, ok := doc.(map[string]any); !ok || len(m) == 0 {
				return e.stamp(NewBadSymbolError(sym.Ticker, "no fundamentals returned"))
			}
			return nil
		})
		if err != nil {
			return Fundamentals{}, err
		}
		f := fundamentalFields{
			Name:            lookupString(doc, eodhdPaths["name"]),
			Sector:          lookupString(doc, eodhdPaths["sector"]),
			Industry:        lookupString(doc, eodhdPaths["industry"]),
			MarketCap:       lookup(doc, eodhdPaths["marketCap"]),
			PERatio:         lookup(doc, eodhdPaths["peRatio"]),
			ForwardPE:       lookup(doc, eodhdPaths["forwardPE"]),
			EPS:             lookup(doc, eodhdPaths["eps"]),
			ProfitMargin:    lookup(doc, eodhdPaths["profitMargin"]),
			OperatingMargin: lookup(doc, eodhdPaths["operatingMargin"]),
			ReturnOnEquity:  lookup(doc, eodhdPaths["returnOnEquity"]),
			ReturnOnAssets:  lookup(doc, eodhdPaths["returnOnAssets"]),
			DividendYield:   lookup(doc, eodhdPaths["dividendYield"]),
			Beta:            lookup(doc, eodhdPaths["beta"]),
			Revenue:         lookup(doc, eodhdPaths["revenue"]),
			Week52High:      lookup(doc, eodhdPaths["week52High"]),
			Week52Low:       lookup(doc, eodhdPaths["week52Low"]),
		}.build(sym.Ticker)
		f.DataSource = e.name
		return *f, nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}
