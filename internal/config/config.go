package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr                string  `yaml:"addr"`
	ReadTimeoutSeconds  int     `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int     `yaml:"write_timeout_seconds"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"` // per client
	Burst               int     `yaml:"burst"`
	MaxBatchSymbols     int     `yaml:"max_batch_symbols"`
}

type Namespace struct {
	TTLSeconds     int    `yaml:"ttl_seconds"`
	MaxEntries     int    `yaml:"max_entries"`
	MaxMemoryBytes int64  `yaml:"max_memory_bytes"`
	EvictionPolicy string `yaml:"eviction_policy"` // lru | fifo
}

type Cache struct {
	SweepIntervalSeconds int                  `yaml:"sweep_interval_seconds"`
	Namespaces           map[string]Namespace `yaml:"namespaces"`
}

type Provider struct {
	Enabled                bool     `yaml:"enabled"`
	APIKeyEnv              string   `yaml:"api_key_env"`
	BaseURL                string   `yaml:"base_url"`
	Model                  string   `yaml:"model"`
	RateLimitPerMinute     int      `yaml:"rate_limit_per_minute"`
	SafetyMargin           int      `yaml:"safety_margin"`
	FailureThreshold       int      `yaml:"failure_threshold"`
	SymbolFailureThreshold int      `yaml:"symbol_failure_threshold"`
	CooldownSeconds        int      `yaml:"cooldown_seconds"`
	TimeoutSeconds         int      `yaml:"timeout_seconds"`
	CryptoAllowlist        []string `yaml:"crypto_allowlist"`
}

type Orchestrator struct {
	QuoteChain            []string `yaml:"quote_chain"`
	HistoryChain          []string `yaml:"history_chain"`
	FundamentalsPrimary   string   `yaml:"fundamentals_primary"`
	FundamentalsSecondary string   `yaml:"fundamentals_secondary"` // perplexity | gemini | ""
	NegativeTTLSeconds    int      `yaml:"negative_ttl_seconds"`
}

type Refresher struct {
	Enabled         bool     `yaml:"enabled"`
	Watchlist       []string `yaml:"watchlist"`
	IntervalSeconds int      `yaml:"interval_seconds"`
}

type Root struct {
	LogLevel     string              `yaml:"log_level"`
	Server       Server              `yaml:"server"`
	Cache        Cache               `yaml:"cache"`
	Providers    map[string]Provider `yaml:"providers"`
	Orchestrator Orchestrator        `yaml:"orchestrator"`
	Refresher    Refresher           `yaml:"refresher"`
}

// providerDefaults holds per-upstream settings merged under anything the
// file sets. Yahoo needs no key.
var providerDefaults = map[string]Provider{
	"alphavantage": {Enabled: true, APIKeyEnv: "ALPHA_VANTAGE_API_KEY", RateLimitPerMinute: 5, TimeoutSeconds: 10},
	"yahoo":        {Enabled: true, RateLimitPerMinute: 100, TimeoutSeconds: 10},
	"eodhd":        {Enabled: false, APIKeyEnv: "EODHD_API_KEY", RateLimitPerMinute: 60, TimeoutSeconds: 10},
	"twelvedata":   {Enabled: false, APIKeyEnv: "TWELVE_DATA_API_KEY", RateLimitPerMinute: 8, TimeoutSeconds: 10},
	"perplexity":   {Enabled: true, APIKeyEnv: "PERPLEXITY_API_KEY", Model: "sonar", RateLimitPerMinute: 20, TimeoutSeconds: 15},
	"gemini":       {Enabled: false, APIKeyEnv: "GEMINI_API_KEY", Model: "gemini-2.5-flash", RateLimitPerMinute: 15, TimeoutSeconds: 15},
	"mock":         {Enabled: false},
}

// Default returns the full default tree.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// Set server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 60
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = 10
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 20
	}
	if c.Server.MaxBatchSymbols == 0 {
		c.Server.MaxBatchSymbols = 100
	}

	// Set cache defaults; namespace policies left zero fall back to the
	// registry's own defaults.
	if c.Cache.SweepIntervalSeconds == 0 {
		c.Cache.SweepIntervalSeconds = 60
	}

	// Set provider defaults
	if c.Providers == nil {
		c.Providers = make(map[string]Provider, len(providerDefaults))
	}
	for name, d := range providerDefaults {
		p, ok := c.Providers[name]
		if !ok {
			c.Providers[name] = d
			continue
		}
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = d.APIKeyEnv
		}
		if p.Model == "" {
			p.Model = d.Model
		}
		if p.RateLimitPerMinute == 0 {
			p.RateLimitPerMinute = d.RateLimitPerMinute
		}
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = d.TimeoutSeconds
		}
		c.Providers[name] = p
	}
	for name, p := range c.Providers {
		if p.FailureThreshold == 0 {
			p.FailureThreshold = 5
		}
		if p.SymbolFailureThreshold == 0 {
			p.SymbolFailureThreshold = 1
		}
		if p.CooldownSeconds == 0 {
			p.CooldownSeconds = 60
		}
		if p.SafetyMargin == 0 {
			p.SafetyMargin = 1
		}
		if p.CryptoAllowlist == nil {
			p.CryptoAllowlist = []string{"BTC/USD"}
		}
		c.Providers[name] = p
	}

	// Set orchestrator defaults
	if len(c.Orchestrator.QuoteChain) == 0 {
		c.Orchestrator.QuoteChain = []string{"yahoo", "alphavantage", "eodhd", "twelvedata"}
	}
	if len(c.Orchestrator.HistoryChain) == 0 {
		c.Orchestrator.HistoryChain = []string{"yahoo", "alphavantage", "eodhd", "twelvedata"}
	}
	if c.Orchestrator.FundamentalsPrimary == "" {
		c.Orchestrator.FundamentalsPrimary = "alphavantage"
	}
	if c.Orchestrator.FundamentalsSecondary == "" {
		c.Orchestrator.FundamentalsSecondary = "perplexity"
	}
	if c.Orchestrator.NegativeTTLSeconds == 0 {
		c.Orchestrator.NegativeTTLSeconds = 60
	}

	// Set refresher defaults
	if c.Refresher.IntervalSeconds == 0 {
		c.Refresher.IntervalSeconds = 60
	}
}

// Validate checks cross-references between sections.
func (c Root) Validate() error {
	var problems []string
	ref := func(section, name string) {
		if _, ok := c.Providers[name]; !ok {
			problems = append(problems, fmt.Sprintf("%s references unknown provider %q", section, name))
		}
	}
	for _, n := range c.Orchestrator.QuoteChain {
		ref("orchestrator.quote_chain", n)
	}
	for _, n := range c.Orchestrator.HistoryChain {
		ref("orchestrator.history_chain", n)
	}
	if n := c.Orchestrator.FundamentalsPrimary; n != "" && n != "none" {
		ref("orchestrator.fundamentals_primary", n)
	}
	switch c.Orchestrator.FundamentalsSecondary {
	case "", "none", "perplexity", "gemini":
	default:
		problems = append(problems, fmt.Sprintf("orchestrator.fundamentals_secondary must be perplexity or gemini, got %q", c.Orchestrator.FundamentalsSecondary))
	}
	for name, ns := range c.Cache.Namespaces {
		switch strings.ToLower(ns.EvictionPolicy) {
		case "", "lru", "fifo":
		default:
			problems = append(problems, fmt.Sprintf("cache.namespaces.%s.eviction_policy %q is not lru or fifo", name, ns.EvictionPolicy))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%s", strings.Join(problems, "; "))
}

// ResolveAPIKey returns the key for provider from the environment variable
// named by its api_key_env. found is false when no variable is named or the
// variable is empty.
func (c Root) ResolveAPIKey(provider string) (key string, found bool) {
	p, ok := c.Providers[provider]
	if !ok || p.APIKeyEnv == "" {
		return "", false
	}
	key = strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	return key, key != ""
}

// NeedsKey reports whether provider requires an API key to run.
func (c Root) NeedsKey(provider string) bool {
	p, ok := c.Providers[provider]
	return ok && p.APIKeyEnv != ""
}
