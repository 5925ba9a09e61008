package adapters

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// Completer answers a free-text prompt. Perplexity and Gemini implement it.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIFundamentalsProvider asks a language model for company fundamentals and
// parses whatever comes back. It is the secondary tier: answers parsed as
// JSON are tagged medium-high, regex-extracted answers medium.
type AIFundamentalsProvider struct {
	*base
	completer Completer
	rules     []normalize.Rule
}

// NewAIFundamentalsProvider wraps completer with its own limiter and cache keys.
func NewAIFundamentalsProvider(completer Completer, cfg ProviderConfig, caches *cache.Registry) (*AIFundamentalsProvider, error) {
	if completer == nil {
		return nil, NewConfigError(cfg.Name, "completer is required")
	}
	cfg.Name = completer.Name()
	if cfg.Limits.MaxCallsPerMinute <= 0 {
		cfg.Limits.MaxCallsPerMinute = 20
	}
	b, err := newBase(cfg, caches, false)
	if err != nil {
		return nil, err
	}
	return &AIFundamentalsProvider{base: b, completer: completer, rules: normalize.DefaultRules}, nil
}

func fundamentalsPrompt(symbol string) string {
	return fmt.Sprintf(`Provide the latest fundamental data for the stock %s.
Answer with a single JSON object and nothing else, using these keys:
name, sector, industry, marketCap (USD, plain number), peRatio, forwardPE, eps,
profitMargin (percent), operatingMargin (percent), returnOnEquity (percent),
returnOnAssets (percent), debtToEquity, dividendYield (percent), beta,
revenue (USD, plain number), week52High, week52Low.
Use null for any value you cannot find.`, symbol)
}

// GetFundamentals queries the model for symbol. A reply that yields no
// metric at all is a parse error and is not cached.
func (a *AIFundamentalsProvider) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sym, err := a.admit(symbol)
	if err != nil {
		return nil, err
	}
	if sym.IsCrypto() {
		return nil, a.stamp(NewUnavailableError(sym.Ticker, "fundamentals not available for crypto"))
	}
	f, err := cache.GetOrSetAs(ctx, a.caches.Fundamentals(), a.key("fundamentals", sym.Ticker), 0, func(ctx context.Context) (Fundamentals, error) {
		var text string
		err := a.call(ctx, "fundamentals", sym.Ticker, func(ctx context.Context) error {
			var cerr error
			text, cerr = a.completer.Complete(ctx, fundamentalsPrompt(sym.Ticker))
			return cerr
		})
		if err != nil {
			return Fundamentals{}, err
		}
		f, err := a.parse(sym.Ticker, text)
		if err != nil {
			return Fundamentals{}, err
		}
		return *f, nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parse runs the layered strategies: a JSON object anywhere in the reply
// first, then the regex rules over the raw text.
func (a *AIFundamentalsProvider) parse(symbol, text string) (*Fundamentals, error) {
	if obj, err := normalize.ExtractJSONObject(text); err == nil {
		if f := fieldsFromJSON(obj).build(symbol); f.HasData() {
			f.DataSource = a.name
			f.Reliability = ReliabilityMediumHigh
			f.Confidence = ConfidenceHigh
			return f, nil
		}
	}

	vals := normalize.ExtractAll(text, a.rules)
	if len(vals) == 0 {
		return nil, a.stamp(NewParseError(symbol, "no fundamentals found in model reply", nil))
	}
	observ.Log("ai_parse_fallback", map[string]any{
		"provider": a.name,
		"symbol":   symbol,
		"metrics":  len(vals),
	})
	raw := func(metric string) any {
		if v, ok := vals[metric]; ok {
			return v
		}
		return nil
	}
	f := fundamentalFields{
		MarketCap:      raw("marketCap"),
		PERatio:        raw("peRatio"),
		EPS:            raw("eps"),
		ProfitMargin:   raw("profitMargin"),
		ReturnOnEquity: raw("returnOnEquity"),
		DebtToEquity:   raw("debtToEquity"),
		DividendYield:  raw("dividendYield"),
		Beta:           raw("beta"),
		Revenue:        raw("revenue"),
		Unit:           normalize.UnitPercent,
	}.build(symbol)
	f.DataSource = a.name
	f.Reliability = ReliabilityMedium
	f.Confidence = ConfidenceMedium
	return f, nil
}

// canonicalKey folds "P/E Ratio", "pe_ratio" and "peRatio" to "peratio".
func canonicalKey(k string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// fieldsFromJSON reads percentage metrics as percentages, which is what the
// prompt asks for.
func fieldsFromJSON(obj map[string]any) fundamentalFields {
	flat := make(map[string]any, len(obj))
	var walk func(m map[string]any, depth int)
	walk = func(m map[string]any, depth int) {
		for k, v := range m {
			if nested, ok := v.(map[string]any); ok && depth < 2 {
				walk(nested, depth+1)
				continue
			}
			ck := canonicalKey(k)
			if _, seen := flat[ck]; !seen {
				flat[ck] = v
			}
		}
	}
	walk(obj, 0)

	pick := func(keys ...string) any {
		for _, k := range keys {
			if v, ok := flat[k]; ok && v != nil {
				return v
			}
		}
		return nil
	}
	str := func(keys ...string) string {
		s, _ := pick(keys...).(string)
		return s
	}
	return fundamentalFields{
		Name:            str("name", "companyname"),
		Sector:          str("sector"),
		Industry:        str("industry"),
		MarketCap:       pick("marketcap", "marketcapitalization"),
		PERatio:         pick("peratio", "pe", "trailingpe", "priceearnings"),
		ForwardPE:       pick("forwardpe"),
		EPS:             pick("eps", "earningspershare"),
		ProfitMargin:    pick("profitmargin", "netmargin"),
		OperatingMargin: pick("operatingmargin"),
		ReturnOnEquity:  pick("returnonequity", "roe"),
		ReturnOnAssets:  pick("returnonassets", "roa"),
		DebtToEquity:    pick("debttoequity", "de", "debtequity"),
		DividendYield:   pick("dividendyield"),
		Beta:            pick("beta"),
		Revenue:         pick("revenue", "revenuettm", "totalrevenue"),
		Week52High:      pick("week52high", "52weekhigh", "fiftytwoweekhigh"),
		Week52Low:       pick("week52low", "52weeklow", "fiftytwoweeklow"),
		Unit:            normalize.UnitPercent,
	}
}
