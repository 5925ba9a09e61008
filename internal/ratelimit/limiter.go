// Package ratelimit paces calls to one upstream provider and stops calling it
// while it is failing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// ErrCircuitOpen is matched by every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is returned by Throttle while the provider's circuit is open.
type CircuitOpenError struct {
	Provider string
	ReopenAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open until %s", e.Provider, e.ReopenAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// Config holds per-provider limits. Zero values take defaults.
type Config struct {
	MaxCallsPerMinute int
	// SafetyMargin is the headroom kept below MaxCallsPerMinute. Negative means none.
	SafetyMargin           int
	FailureThreshold       int
	SymbolFailureThreshold int
	Cooldown               time.Duration
	Window                 time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.MaxCallsPerMinute <= 0 {
		c.MaxCallsPerMinute = 60
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = 1
	} else if c.SafetyMargin < 0 {
		c.SafetyMargin = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SymbolFailureThreshold <= 0 {
		c.SymbolFailureThreshold = 1
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter combines a sliding-window call counter, a consecutive-failure
// circuit breaker and a per-symbol blacklist for one provider.
// The blacklist is only cleared when the circuit resets.
type Limiter struct {
	provider string
	cfg      Config
	limit    int

	mu             sync.Mutex
	calls          []time.Time // ascending, all within the trailing window
	failures       int
	open           bool
	reopenAt       time.Time
	symbolFailures map[string]int
	blacklist      map[string]struct{}
}

// New creates the limiter for provider.
func New(provider string, cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	limit := cfg.MaxCallsPerMinute - cfg.SafetyMargin
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{
		provider:       provider,
		cfg:            cfg,
		limit:          limit,
		symbolFailures: make(map[string]int),
		blacklist:      make(map[string]struct{}),
	}
	observ.SetGauge("circuit_open", 0, map[string]string{"provider": provider})
	return l
}

// Provider returns the provider this limiter guards.
func (l *Limiter) Provider() string { return l.provider }

// Throttle must be called before every upstream request. It fails fast with a
// *CircuitOpenError while the circuit is open, resets the circuit once the
// cooldown has passed, and otherwise waits until the window has room.
func (l *Limiter) Throttle(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.cfg.Now()
		l.pruneLocked(now)

		if l.open {
			if now.Before(l.reopenAt) {
				err := &CircuitOpenError{Provider: l.provider, ReopenAt: l.reopenAt}
				l.mu.Unlock()
				return err
			}
			l.resetLocked()
			l.mu.Unlock()
			l.circuitClosed("cooldown_elapsed")
			continue
		}

		if len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.calls[0].Add(l.cfg.Window).Sub(now)
		l.mu.Unlock()

		observ.Observe("ratelimit_wait_seconds", wait.Seconds(), map[string]string{"provider": l.provider})
		observ.Debug("ratelimit_wait", map[string]any{"provider": l.provider, "wait_ms": wait.Milliseconds()})
		if err := l.cfg.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// ReportSuccess clears the consecutive failure count. The blacklist is kept.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
}

// ReportFailure counts one failed call. A non-empty symbol marks the failure
// as specific to that symbol, which blacklists it once it has failed
// SymbolFailureThreshold times.
func (l *Limiter) ReportFailure(symbol string) {
	l.mu.Lock()
	now := l.cfg.Now()
	l.failures++
	failures := l.failures

	blacklisted := false
	if symbol != "" {
		l.symbolFailures[symbol]++
		if _, already := l.blacklist[symbol]; !already && l.symbolFailures[symbol] >= l.cfg.SymbolFailureThreshold {
			l.blacklist[symbol] = struct{}{}
			blacklisted = true
		}
	}

	opened := false
	if !l.open && l.failures >= l.cfg.FailureThreshold {
		l.open = true
		l.reopenAt = now.Add(l.cfg.Cooldown)
		opened = true
	}
	reopenAt := l.reopenAt
	l.mu.Unlock()

	if blacklisted {
		observ.Warn("symbol_blacklisted", map[string]any{"provider": l.provider, "symbol": symbol})
	}
	if opened {
		observ.SetGauge("circuit_open", 1, map[string]string{"provider": l.provider})
		observ.Warn("circuit_opened", map[string]any{
			"provider":  l.provider,
			"failures":  failures,
			"reopen_at": reopenAt.Format(time.RFC3339),
		})
	}
}

// IsSymbolBlacklisted is the pre-flight check for symbol-specific calls.
func (l *Limiter) IsSymbolBlacklisted(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.blacklist[symbol]
	return ok
}

// Reset closes the circuit and clears failures and the blacklist. Recorded
// calls stay in the window since they were really made.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.resetLocked()
	l.mu.Unlock()
	l.circuitClosed("manual")
}

func (l *Limiter) resetLocked() {
	l.open = false
	l.reopenAt = time.Time{}
	l.failures = 0
	l.symbolFailures = make(map[string]int)
	l.blacklist = make(map[string]struct{})
}

func (l *Limiter) circuitClosed(reason string) {
	observ.SetGauge("circuit_open", 0, map[string]string{"provider": l.provider})
	observ.Log("circuit_reset", map[string]any{"provider": l.provider, "reason": reason})
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// State is a snapshot for status endpoints.
type State struct {
	Provider            string     `json:"provider"`
	MaxCallsPerMinute   int        `json:"maxCallsPerMinute"`
	EffectiveLimit      int        `json:"effectiveLimit"`
	CallsInWindow       int        `json:"callsInWindow"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	Threshold           int        `json:"threshold"`
	IsOpen              bool       `json:"isOpen"`
	ReopenAt            *time.Time `json:"reopenAt,omitempty"`
	BlacklistedSymbols  []string   `json:"blacklistedSymbols"`
}

// State returns the current limiter state.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.cfg.Now())

	s := State{
		Provider:            l.provider,
		MaxCallsPerMinute:   l.cfg.MaxCallsPerMinute,
		EffectiveLimit:      l.limit,
		CallsInWindow:       len(l.calls),
		ConsecutiveFailures: l.failures,
		Threshold:           l.cfg.FailureThreshold,
		IsOpen:              l.open,
		BlacklistedSymbols:  make([]string, 0, len(l.blacklist)),
	}
	if l.open {
		at := l.reopenAt
		s.ReopenAt = &at
	}
	for sym := range l.blacklist {
		s.BlacklistedSymbols = append(s.BlacklistedSymbols, sym)
	}
	sort.Strings(s.BlacklistedSymbols)
	return s
}
