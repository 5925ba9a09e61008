package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/ratelimit"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 3650
)

// OrchestratorConfig lists providers in priority order.
type OrchestratorConfig struct {
	QuoteChain            []QuoteProvider
	HistoryChain          []HistoryProvider
	FundamentalsPrimary   FundamentalsProvider
	FundamentalsSecondary FundamentalsProvider

	// NegativeTTL is how long an empty fundamentals result is remembered.
	NegativeTTL time.Duration
}

// Orchestrator tries providers strictly in order, never concurrently, and
// shapes the result the API returns.
type Orchestrator struct {
	quotes      []QuoteProvider
	history     []HistoryProvider
	primary     FundamentalsProvider
	secondary   FundamentalsProvider
	caches      *cache.Registry
	negativeTTL time.Duration
}

// NewOrchestrator validates cfg. At least one quote provider is required.
func NewOrchestrator(cfg OrchestratorConfig, caches *cache.Registry) (*Orchestrator, error) {
	if len(cfg.QuoteChain) == 0 {
		return nil, NewConfigError("orchestrator", "quote chain is empty")
	}
	if caches == nil {
		return nil, NewConfigError("orchestrator", "cache registry is required")
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = time.Minute
	}
	o := &Orchestrator{
		quotes:      cfg.QuoteChain,
		history:     cfg.HistoryChain,
		primary:     cfg.FundamentalsPrimary,
		secondary:   cfg.FundamentalsSecondary,
		caches:      caches,
		negativeTTL: cfg.NegativeTTL,
	}
	observ.Log("orchestrator_created", map[string]any{
		"quote_chain":            names(o.quotes),
		"history_chain":          names(o.history),
		"fundamentals_primary":   nameOf(o.primary),
		"fundamentals_secondary": nameOf(o.secondary),
	})
	return o, nil
}

func names[P Provider](ps []P) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}

func nameOf(p Provider) string {
	if p == nil {
		return ""
	}
	return p.Name()
}

// Secondary returns the AI tier, or nil when none is configured.
func (o *Orchestrator) Secondary() FundamentalsProvider { return o.secondary }

func tierUsed(op, tier string, position int, symbol string) {
	observ.IncCounter("fallback_tier_total", map[string]string{"op": op, "tier": tier})
	if position > 0 {
		observ.Log("fallback_tier_used", map[string]any{
			"op":       op,
			"tier":     tier,
			"position": position,
			"symbol":   symbol,
		})
	}
}

func exhausted(symbol string, errs []error) error {
	return &QuoteError{
		Type:    ErrExhausted,
		Symbol:  symbol,
		Message: "all providers failed",
		Cause:   errors.Join(errs...),
	}
}

// GetQuote returns the first valid quote along the chain.
func (o *Orchestrator) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}
	var errs []error
	for i, p := range o.quotes {
		q, err := p.GetQuote(ctx, symbol)
		if err == nil {
			if verr := ValidateQuote(q); verr != nil {
				err = &QuoteError{Type: ErrProvider, Provider: p.Name(), Symbol: symbol, Message: "invalid quote", Cause: verr}
			}
		}
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if q.Source == "" {
			q.Source = p.Name()
		}
		tierUsed("quote", p.Name(), i, symbol)
		return q, nil
	}
	return nil, exhausted(symbol, errs)
}

// GetBatchQuotes returns one entry per input symbol, in input order. Each
// provider only sees the symbols its predecessors could not serve, and
// symbols nobody served come back as error markers.
func (o *Orchestrator) GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	served := make(map[string]Quote, len(symbols))
	markers := make(map[string]Quote)
	seen := make(map[string]bool, len(symbols))
	var remaining []string
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" {
			markers[n] = UnavailableQuote(n, NewBadSymbolError(n, "empty symbol"))
			continue
		}
		if !seen[n] {
			seen[n] = true
			remaining = append(remaining, n)
		}
	}

	for i, p := range o.quotes {
		if len(remaining) == 0 || ctx.Err() != nil {
			break
		}
		var batch []Quote
		if bp, ok := p.(BatchQuoteProvider); ok {
			var err error
			if batch, err = bp.GetBatchQuotes(ctx, remaining); err != nil {
				for _, s := range remaining {
					markers[s] = UnavailableQuote(s, err)
				}
				continue
			}
		} else {
			batch = batchViaSingle(ctx, p, remaining)
		}

		bySymbol := make(map[string]Quote, len(batch))
		for _, q := range batch {
			bySymbol[NormalizeSymbol(q.Symbol)] = q
		}
		var next []string
		for _, s := range remaining {
			q, ok := bySymbol[s]
			switch {
			case !ok:
				markers[s] = UnavailableQuote(s, nil)
			case q.Failed():
				markers[s] = q
			default:
				if err := ValidateQuote(&q); err != nil {
					markers[s] = UnavailableQuote(s, &QuoteError{Type: ErrProvider, Provider: p.Name(), Symbol: s, Message: "invalid quote", Cause: err})
					break
				}
				if q.Source == "" {
					q.Source = p.Name()
				}
				served[s] = q
				tierUsed("batch_quote", p.Name(), i, s)
				continue
			}
			next = append(next, s)
		}
		remaining = next
	}

	out := make([]Quote, 0, len(symbols))
	failed := 0
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if q, ok := served[n]; ok {
			out = append(out, q)
			continue
		}
		failed++
		if m, ok := markers[n]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, UnavailableQuote(n, nil))
	}
	observ.Log("batch_quotes", map[string]any{
		"requested": len(symbols),
		"served":    len(symbols) - failed,
		"failed":    failed,
	})
	return out, nil
}

// GetHistoricalData returns the first non-empty series along the history
// chain. days defaults to 30 and is clamped to [1, 3650].
func (o *Orchestrator) GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}
	switch {
	case days <= 0:
		days = defaultHistoryDays
	case days > maxHistoryDays:
		days = maxHistoryDays
	}
	var errs []error
	for i, p := range o.history {
		bars, err := p.GetHistoricalData(ctx, symbol, days)
		if err == nil && len(bars) == 0 {
			err = &QuoteError{Type: ErrBadSymbol, Provider: p.Name(), Symbol: symbol, Message: "empty series"}
		}
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		tierUsed("history", p.Name(), i, symbol)
		return bars, nil
	}
	return nil, exhausted(symbol, errs)
}

func (o *Orchestrator) fundamentalsKey(symbol string) string {
	return "unified:fundamentals_" + symbol
}

// GetFundamentals never fails: it returns the primary result when complete,
// else the secondary tier's answer with gaps filled from any partial primary
// data, else the partial primary data, else EmptyFundamentals.
func (o *Orchestrator) GetFundamentals(ctx context.Context, symbol string) Fundamentals {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return EmptyFundamentals(symbol)
	}
	ns := o.caches.Fundamentals()
	key := o.fundamentalsKey(symbol)
	if v, ok := ns.Get(key); ok {
		if f, ok := v.(Fundamentals); ok {
			return f
		}
	}

	var partial *Fundamentals
	if o.primary != nil {
		f, err := o.primary.GetFundamentals(ctx, symbol)
		switch {
		case err != nil:
			observ.Warn("fundamentals_tier_failed", map[string]any{
				"tier":     "primary",
				"provider": o.primary.Name(),
				"symbol":   symbol,
				"error":    err.Error(),
			})
		case f.Complete():
			out := *f
			out.Reliability = ReliabilityHigh
			out.Confidence = ""
			if out.DataSource == "" {
				out.DataSource = o.primary.Name()
			}
			ns.Set(key, out, 0)
			tierUsed("fundamentals", string(out.Reliability), 0, symbol)
			return out
		default:
			partial = f
		}
	}

	if o.secondary != nil {
		f, err := o.secondary.GetFundamentals(ctx, symbol)
		switch {
		case err != nil:
			observ.Warn("fundamentals_tier_failed", map[string]any{
				"tier":     "secondary",
				"provider": o.secondary.Name(),
				"symbol":   symbol,
				"error":    err.Error(),
			})
		case f.HasData():
			out := *f
			out.FillFrom(partial)
			if out.Reliability == "" {
				out.Reliability = ReliabilityMedium
			}
			if out.DataSource == "" {
				out.DataSource = o.secondary.Name()
			}
			tierUsed("fundamentals", string(out.Reliability), 1, symbol)
			return out
		}
	}

	if partial != nil && partial.HasData() {
		out := *partial
		out.Reliability = ReliabilityMedium
		out.Confidence = ConfidenceMedium
		if out.DataSource == "" {
			out.DataSource = nameOf(o.primary)
		}
		tierUsed("fundamentals", string(out.Reliability), 2, symbol)
		return out
	}

	out := EmptyFundamentals(symbol)
	ns.Set(key, out, o.negativeTTL)
	tierUsed("fundamentals", string(ReliabilityNone), 3, symbol)
	return out
}

// ProviderStatus is one entry of the providers status report.
type ProviderStatus struct {
	Name    string           `json:"name"`
	Roles   []string         `json:"roles"`
	Limiter *ratelimit.State `json:"limiter,omitempty"`
	Health  *HealthSnapshot  `json:"health,omitempty"`
}

type healthReporter interface {
	Health() *ProviderHealth
}

// Status reports every configured provider once, in first-seen order.
func (o *Orchestrator) Status() []ProviderStatus {
	var order []string
	byName := make(map[string]*ProviderStatus)
	add := func(p Provider, role string) {
		if p == nil {
			return
		}
		st, ok := byName[p.Name()]
		if !ok {
			st = &ProviderStatus{Name: p.Name()}
			if l, ok := p.(Limited); ok {
				s := l.Limiter().State()
				st.Limiter = &s
			}
			if h, ok := p.(healthReporter); ok {
				s := h.Health().Snapshot()
				st.Health = &s
			}
			byName[p.Name()] = st
			order = append(order, p.Name())
		}
		st.Roles = append(st.Roles, role)
	}
	for _, p := range o.quotes {
		add(p, "quote")
	}
	for _, p := range o.history {
		add(p, "history")
	}
	if o.primary != nil {
		add(o.primary, "fundamentals_primary")
	}
	if o.secondary != nil {
		add(o.secondary, "fundamentals_secondary")
	}

	out := make([]ProviderStatus, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out
}
