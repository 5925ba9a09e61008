package adapters

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// ChaosConfig configures chaos testing behavior
type ChaosConfig struct {
	ErrorRate        float64       // 0.1 = 10% provider errors
	TimeoutRate      float64       // 0.05 = 5% timeouts
	NetworkErrorRate float64       // connection failures
	ParseErrorRate   float64       // malformed payloads
	Latency          time.Duration // added before every call
	Seed             int64         // zero picks a time-based seed
}

// ChaosProvider wraps a quote provider and injects typed failures, for
// exercising fallback paths. It is test support and is never built by the
// provider factory.
type ChaosProvider struct {
	underlying QuoteProvider
	config     ChaosConfig

	mu   sync.Mutex
	rand *rand.Rand
}

// NewChaosProvider creates a chaos-enabled wrapper around underlying.
func NewChaosProvider(underlying QuoteProvider, config ChaosConfig) *ChaosProvider {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ChaosProvider{
		underlying: underlying,
		config:     config,
		rand:       rand.New(rand.NewSource(seed)),
	}
}

func (c *ChaosProvider) Name() string { return c.underlying.Name() }

// GetQuote injects chaos, then delegates.
func (c *ChaosProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.injectChaos(ctx, symbol); err != nil {
		return nil, err
	}
	return c.underlying.GetQuote(ctx, symbol)
}

// injectChaos randomly picks one failure kind, or none.
func (c *ChaosProvider) injectChaos(ctx context.Context, symbol string) error {
	if c.config.Latency > 0 {
		select {
		case <-time.After(c.config.Latency):
		case <-ctx.Done():
			return c.stamp(NewTimeoutError(symbol, "context done", ctx.Err()))
		}
	}

	c.mu.Lock()
	roll := func() float64 { return c.rand.Float64() }
	var err *QuoteError
	switch {
	case roll() < c.config.TimeoutRate:
		err = NewTimeoutError(symbol, "chaos: simulated request timeout", context.DeadlineExceeded)
	case roll() < c.config.NetworkErrorRate:
		err = NewNetworkError(symbol, "chaos: connection refused", errors.New("connection refused"))
	case roll() < c.config.ParseErrorRate:
		err = NewParseError(symbol, "chaos: invalid JSON response", nil)
	case roll() < c.config.ErrorRate:
		err = NewProviderError(symbol, "chaos: simulated provider failure", nil)
	}
	c.mu.Unlock()

	if err == nil {
		return nil
	}
	observ.Debug("chaos_injected", map[string]any{
		"provider": c.Name(),
		"symbol":   symbol,
		"kind":     err.Type,
	})
	return c.stamp(err)
}

func (c *ChaosProvider) stamp(err *QuoteError) error {
	err.Provider = c.Name()
	return err
}
