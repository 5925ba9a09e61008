package adapters

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/config"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/ratelimit"
)

// CacheOverrides converts the cache section into registry overrides.
func CacheOverrides(c config.Cache) map[string]cache.Config {
	out := make(map[string]cache.Config, len(c.Namespaces))
	sweep := time.Duration(c.SweepIntervalSeconds) * time.Second
	for name, ns := range c.Namespaces {
		out[name] = cache.Config{
			TTL:            time.Duration(ns.TTLSeconds) * time.Second,
			MaxEntries:     ns.MaxEntries,
			MaxMemoryBytes: ns.MaxMemoryBytes,
			EvictionPolicy: cache.EvictionPolicy(strings.ToLower(ns.EvictionPolicy)),
			SweepInterval:  sweep,
		}
	}
	for name := range cache.DefaultConfigs() {
		if _, ok := out[name]; !ok {
			out[name] = cache.Config{SweepInterval: sweep}
		}
	}
	return out
}

// factory builds each configured provider at most once.
type factory struct {
	ctx    context.Context
	cfg    config.Root
	caches *cache.Registry
	built  map[string]Provider
}

// Build constructs every enabled provider the orchestrator section references
// and wires them in priority order. A missing API key for an enabled keyed
// provider is a fatal config error. Setting QUOTES=mock in the environment
// serves everything from the demo provider.
func Build(ctx context.Context, cfg config.Root, caches *cache.Registry) (*Orchestrator, error) {
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("QUOTES"))); env == MockName {
		observ.Log("quotes_adapter_override", map[string]any{
			"env_override": env,
			"reason":       "offline mode",
		})
		demo := NewDemoProvider()
		return NewOrchestrator(OrchestratorConfig{
			QuoteChain:          []QuoteProvider{demo},
			HistoryChain:        []HistoryProvider{demo},
			FundamentalsPrimary: demo,
			NegativeTTL:         time.Duration(cfg.Orchestrator.NegativeTTLSeconds) * time.Second,
		}, caches)
	}

	f := &factory{ctx: ctx, cfg: cfg, caches: caches, built: make(map[string]Provider)}
	oc := OrchestratorConfig{NegativeTTL: time.Duration(cfg.Orchestrator.NegativeTTLSeconds) * time.Second}

	for _, name := range cfg.Orchestrator.QuoteChain {
		p, err := f.provider(name)
		if err != nil {
			return nil, err
		}
		if qp, ok := p.(QuoteProvider); ok {
			oc.QuoteChain = append(oc.QuoteChain, qp)
		}
	}
	for _, name := range cfg.Orchestrator.HistoryChain {
		p, err := f.provider(name)
		if err != nil {
			return nil, err
		}
		if hp, ok := p.(HistoryProvider); ok {
			oc.HistoryChain = append(oc.HistoryChain, hp)
		}
	}
	if name := cfg.Orchestrator.FundamentalsPrimary; name != "" && name != "none" {
		p, err := f.provider(name)
		if err != nil {
			return nil, err
		}
		if fp, ok := p.(FundamentalsProvider); ok {
			oc.FundamentalsPrimary = fp
		}
	}
	if name := cfg.Orchestrator.FundamentalsSecondary; name != "" && name != "none" {
		ai, err := f.aiProvider(name)
		if err != nil {
			return nil, err
		}
		if ai != nil {
			oc.FundamentalsSecondary = ai
		}
	}
	return NewOrchestrator(oc, caches)
}

// provider returns nil, nil for a disabled provider.
func (f *factory) provider(name string) (Provider, error) {
	if p, ok := f.built[name]; ok {
		return p, nil
	}
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, NewConfigError(name, "unknown provider")
	}
	if !pc.Enabled {
		observ.Log("provider_disabled", map[string]any{"provider": name})
		f.built[name] = nil
		return nil, nil
	}

	settings, err := f.settings(name, pc)
	if err != nil {
		return nil, err
	}
	var p Provider
	switch name {
	case AlphaVantageName:
		p, err = NewAlphaVantageAdapter(settings, f.caches)
	case YahooName:
		p, err = NewYahooAdapter(settings, f.caches)
	case EODHDName:
		p, err = NewEODHDAdapter(settings, f.caches)
	case TwelveDataName:
		p, err = NewTwelveDataAdapter(settings, f.caches)
	case MockName:
		p = NewDemoProvider()
	default:
		return nil, NewConfigError(name, "provider cannot serve market data")
	}
	if err != nil {
		return nil, err
	}
	f.built[name] = p
	return p, nil
}

func (f *factory) aiProvider(name string) (*AIFundamentalsProvider, error) {
	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, NewConfigError(name, "unknown provider")
	}
	if !pc.Enabled {
		observ.Log("provider_disabled", map[string]any{"provider": name})
		return nil, nil
	}
	settings, err := f.settings(name, pc)
	if err != nil {
		return nil, err
	}
	var completer Completer
	switch name {
	case PerplexityName:
		completer, err = NewPerplexityCompleter(settings, pc.Model)
	case GeminiName:
		completer, err = NewGeminiCompleter(f.ctx, settings, pc.Model)
	default:
		return nil, NewConfigError(name, "not an AI backend")
	}
	if err != nil {
		return nil, err
	}
	return NewAIFundamentalsProvider(completer, settings, f.caches)
}

// settings resolves the API key and maps the YAML section onto ProviderConfig.
func (f *factory) settings(name string, pc config.Provider) (ProviderConfig, error) {
	key, found := f.cfg.ResolveAPIKey(name)
	if f.cfg.NeedsKey(name) && !found {
		return ProviderConfig{}, NewConfigError(name, fmt.Sprintf("environment variable %s is not set", pc.APIKeyEnv))
	}
	if found {
		observ.Log("api_key_resolved", map[string]any{
			"provider": name,
			"env":      pc.APIKeyEnv,
			"api_key":  observ.MaskKey(key),
		})
	}
	return ProviderConfig{
		Name:    name,
		BaseURL: pc.BaseURL,
		APIKey:  key,
		Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		Limits: ratelimit.Config{
			MaxCallsPerMinute:      pc.RateLimitPerMinute,
			SafetyMargin:           pc.SafetyMargin,
			FailureThreshold:       pc.FailureThreshold,
			SymbolFailureThreshold: pc.SymbolFailureThreshold,
			Cooldown:               time.Duration(pc.CooldownSeconds) * time.Second,
		},
		Policy: NewSymbolPolicy(pc.CryptoAllowlist),
	}, nil
}
