package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/ratelimit"
)

const maxResponseBytes = 8 << 20

// ProviderConfig is what every upstream adapter is built from.
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Limits  ratelimit.Config
	Policy  SymbolPolicy

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// jsonClient is the JSON-over-HTTP transport. Every error it returns is a
// *QuoteError attributed to name.
type jsonClient struct {
	name    string
	baseURL string
	client  *http.Client
}

func newJSONClient(name, baseURL string, timeout time.Duration, client *http.Client) *jsonClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &jsonClient{name: name, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// base carries the plumbing shared by the adapters: the limiter, health
// tracking, cache access and JSON transport.
type base struct {
	*jsonClient
	apiKey  string
	limiter *ratelimit.Limiter
	health  *ProviderHealth
	caches  *cache.Registry
	policy  SymbolPolicy
}

func newBase(cfg ProviderConfig, caches *cache.Registry, requireKey bool) (*base, error) {
	if requireKey && strings.TrimSpace(cfg.APIKey) == "" {
		return nil, NewConfigError(cfg.Name, "API key is required")
	}
	if caches == nil {
		return nil, NewConfigError(cfg.Name, "cache registry is required")
	}
	b := &base{
		jsonClient: newJSONClient(cfg.Name, cfg.BaseURL, cfg.Timeout, cfg.HTTPClient),
		apiKey:     cfg.APIKey,
		limiter:    ratelimit.New(cfg.Name, cfg.Limits),
		health:     NewProviderHealth(cfg.Name),
		caches:     caches,
		policy:     cfg.Policy,
	}
	fields := map[string]any{
		"provider":   cfg.Name,
		"base_url":   b.baseURL,
		"timeout_ms": b.client.Timeout.Milliseconds(),
	}
	if cfg.APIKey != "" {
		fields["api_key"] = observ.MaskKey(cfg.APIKey)
	}
	observ.Log("provider_created", fields)
	return b, nil
}

// Name returns the provider name.
func (b *base) Name() string { return b.name }

// Limiter exposes the provider's limiter for status reporting.
func (b *base) Limiter() *ratelimit.Limiter { return b.limiter }

// Health exposes the provider's health tracker.
func (b *base) Health() *ProviderHealth { return b.health }

// admit is the pre-flight check run before any cache or network access.
func (b *base) admit(raw string) (Symbol, error) {
	sym := ClassifySymbol(raw)
	if sym.Ticker == "" {
		return sym, b.stamp(NewBadSymbolError(raw, "empty symbol"))
	}
	if !b.policy.Allows(sym) {
		return sym, b.stamp(NewUnavailableError(sym.Ticker, "crypto pair not enabled"))
	}
	if b.limiter.IsSymbolBlacklisted(sym.Ticker) {
		return sym, b.stamp(NewUnavailableError(sym.Ticker, "temporarily unavailable"))
	}
	return sym, nil
}

func (b *base) key(kind, symbol string) string {
	return b.name + ":" + kind + "_" + symbol
}

// stamp attributes err to this provider.
func (c *jsonClient) stamp(err *QuoteError) error {
	if err.Provider == "" {
		err.Provider = c.name
	}
	return err
}

// call runs one upstream request under the limiter and records its outcome.
func (b *base) call(ctx context.Context, op, symbol string, fn func(ctx context.Context) error) error {
	if err := b.limiter.Throttle(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrCircuitOpen) {
			observ.IncCounter("provider_requests_total", map[string]string{"provider": b.name, "op": op, "result": ErrCircuitOpen})
			return b.stamp(newCircuitOpenError(symbol, err))
		}
		return b.stamp(NewTimeoutError(symbol, "rate limit wait cancelled", err))
	}
	start := time.Now()
	err := fn(ctx)
	b.record(op, symbol, err, time.Since(start))
	return err
}

func (b *base) record(op, symbol string, err error, latency time.Duration) {
	observ.RecordDuration("provider_latency", latency, map[string]string{"provider": b.name, "op": op})
	if err == nil {
		b.limiter.ReportSuccess()
		b.health.RecordSuccess(latency)
		observ.IncCounter("provider_requests_total", map[string]string{"provider": b.name, "op": op, "result": "success"})
		return
	}

	kind := Kind(err)
	failed := ""
	if IsSymbolSpecific(err) {
		failed = symbol
	}
	b.limiter.ReportFailure(failed)
	b.health.RecordError(err)
	observ.IncCounter("provider_requests_total", map[string]string{"provider": b.name, "op": op, "result": kind})
	observ.Warn("provider_request_failed", map[string]any{
		"provider":   b.name,
		"op":         op,
		"symbol":     symbol,
		"kind":       kind,
		"error":      err.Error(),
		"latency_ms": latency.Milliseconds(),
	})
}

// getJSON issues GET baseURL+path?query and decodes the JSON body into out.
func (c *jsonClient) getJSON(ctx context.Context, symbol, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return c.stamp(NewNetworkError(symbol, "failed to create request", err))
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, symbol, out)
}

// postJSON sends payload as JSON and decodes the response into out.
func (c *jsonClient) postJSON(ctx context.Context, symbol, path string, header http.Header, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return c.stamp(NewProviderError(symbol, "failed to encode request", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return c.stamp(NewNetworkError(symbol, "failed to create request", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, symbol, out)
}

func (c *jsonClient) do(req *http.Request, symbol string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return c.stamp(transportError(symbol, "request failed", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.stamp(transportError(symbol, "failed to read response", err))
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return c.stamp(NewRateLimitError(symbol, "API rate limit exceeded"))
	case code == http.StatusNotFound || code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return c.stamp(NewBadSymbolError(symbol, fmt.Sprintf("HTTP %d: %s", code, snippet(body))))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return c.stamp(NewProviderError(symbol, fmt.Sprintf("HTTP %d: credentials rejected", code), nil))
	case code < 200 || code > 299:
		return c.stamp(NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", code, snippet(body)), nil))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.stamp(NewParseError(symbol, "failed to parse response", err))
	}
	return nil
}

func transportError(symbol, message string, err error) *QuoteError {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}
	if isTimeout(err) {
		return NewTimeoutError(symbol, "request timed out", err)
	}
	return NewNetworkError(symbol, message, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var secretParams = []string{"apikey", "api_key", "api_token", "token", "key"}

// redactURL masks credential query parameters so errors can be logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if v := q.Get(p); v != "" {
			q.Set(p, observ.MaskKey(v))
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// batchViaSingle serves a batch one symbol at a time for upstreams without
// a batch endpoint. Failures become per-symbol markers.
func batchViaSingle(ctx context.Context, p QuoteProvider, symbols []string) []Quote {
	out := make([]Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := p.GetQuote(ctx, s)
		if err != nil {
			out = append(out, UnavailableQuote(NormalizeSymbol(s), err))
			continue
		}
		out = append(out, *q)
	}
	return out
}

// trimHistory keeps the last days bars of an ascending series.
func trimHistory(bars []OHLCV, days int) []OHLCV {
	if days > 0 && len(bars) > days {
		return bars[len(bars)-days:]
	}
	return bars
}
