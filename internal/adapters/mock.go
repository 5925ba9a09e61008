package adapters

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
)

const MockName = "mock"

// MockProvider serves deterministic in-memory data for tests and offline
// mode. It satisfies every provider interface.
type MockProvider struct {
	mu           sync.RWMutex
	name         string
	quotes       map[string]Quote
	fundamentals map[string]Fundamentals
	history      map[string][]OHLCV
	symbolErrs   map[string]error
	failure      error
	latency      time.Duration
	calls        map[string]int
}

// NewMockProvider creates an empty mock named name.
func NewMockProvider(name string) *MockProvider {
	if name == "" {
		name = MockName
	}
	return &MockProvider{
		name:         name,
		quotes:       make(map[string]Quote),
		fundamentals: make(map[string]Fundamentals),
		history:      make(map[string][]OHLCV),
		symbolErrs:   make(map[string]error),
		calls:        make(map[string]int),
	}
}

// NewDemoProvider returns a mock seeded with a few well known symbols.
func NewDemoProvider() *MockProvider {
	m := NewMockProvider(MockName)
	seed := []struct {
		symbol, name string
		price, pe    float64
		cap          float64
	}{
		{"AAPL", "Apple Inc.", 189.84, 29.4, 2.95e12},
		{"MSFT", "Microsoft Corporation", 415.50, 36.1, 3.09e12},
		{"NVDA", "NVIDIA Corporation", 880.08, 72.3, 2.2e12},
		{"BTC/USD", "Bitcoin / US Dollar", 67250.00, 0, 0},
	}
	now := time.Now().UTC()
	for _, s := range seed {
		price, prev := s.price, s.price*0.99
		change := price - prev
		pct := change / prev * 100
		vol := 1.2e7
		q := Quote{
			Symbol: s.symbol, Name: s.name,
			Price: &price, Close: &price, PreviousClose: &prev,
			Change: &change, ChangePercent: &pct, Volume: &vol,
			Timestamp: now.Add(-30 * time.Second),
		}
		if s.cap > 0 {
			mc, pe := s.cap, s.pe
			q.MarketCap, q.TrailingPE = &mc, &pe
			m.AddFundamentals(*fundamentalFields{
				Name: s.name, Sector: "Technology",
				MarketCap: s.cap, PERatio: s.pe, EPS: price / s.pe,
				ProfitMargin: 0.25, ReturnOnEquity: 0.45, DebtToEquity: 150.0,
				DividendYield: 0.005, Beta: 1.2,
			}.build(s.symbol))
		}
		m.AddQuote(q)
		m.AddHistory(s.symbol, demoHistory(s.price, 365, now))
	}
	return m
}

// demoHistory draws a smooth series ending near last.
func demoHistory(last float64, days int, end time.Time) []OHLCV {
	bars := make([]OHLCV, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := end.AddDate(0, 0, -i)
		c := last * (1 + 0.05*math.Sin(float64(i)/9))
		bars = append(bars, OHLCV{
			Date:   day.Format("2006-01-02"),
			Open:   c * 0.995,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1e6 + float64(i%7)*1e5,
		})
	}
	return bars
}

func (m *MockProvider) Name() string { return m.name }

// AddQuote allows tests to add custom quotes
func (m *MockProvider) AddQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Symbol = NormalizeSymbol(q.Symbol)
	m.quotes[q.Symbol] = q
}

// AddFundamentals stores f under its symbol.
func (m *MockProvider) AddFundamentals(f Fundamentals) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Symbol = NormalizeSymbol(f.Symbol)
	m.fundamentals[f.Symbol] = f
}

// AddHistory stores bars, oldest first.
func (m *MockProvider) AddHistory(symbol string, bars []OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[NormalizeSymbol(symbol)] = bars
}

// FailSymbol makes every call for symbol return err.
func (m *MockProvider) FailSymbol(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbolErrs[NormalizeSymbol(symbol)] = err
}

// SetFailure makes every call return err; nil restores normal behavior.
func (m *MockProvider) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// SetLatency allows tests to control simulated latency
func (m *MockProvider) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns how many times op was invoked.
func (m *MockProvider) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Symbols returns every symbol with a quote, sorted.
func (m *MockProvider) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.quotes))
	for s := range m.quotes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// begin counts the call, simulates latency and returns any forced error.
func (m *MockProvider) begin(ctx context.Context, op, symbol string) error {
	m.mu.Lock()
	m.calls[op]++
	latency, failure, symErr := m.latency, m.failure, m.symbolErrs[symbol]
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return NewTimeoutError(symbol, "context done", ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return NewTimeoutError(symbol, "context done", err)
	}
	if failure != nil {
		return failure
	}
	return symErr
}

// GetQuote returns a mock quote for the given symbol
func (m *MockProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if err := m.begin(ctx, "quote", symbol); err != nil {
		return nil, err
	}
	m.mu.RLock()
	q, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, &QuoteError{Type: ErrBadSymbol, Provider: m.name, Symbol: symbol, Message: "symbol not found in mock data"}
	}
	q.Source = m.name
	return &q, nil
}

// GetBatchQuotes returns mock quotes in input order with error markers.
func (m *MockProvider) GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	m.mu.Lock()
	m.calls["batch_quote"]++
	m.mu.Unlock()
	return batchViaSingle(ctx, m, symbols), nil
}

// GetFundamentals returns stored fundamentals.
func (m *MockProvider) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	if err := m.begin(ctx, "fundamentals", symbol); err != nil {
		return nil, err
	}
	m.mu.RLock()
	f, ok := m.fundamentals[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, &QuoteError{Type: ErrBadSymbol, Provider: m.name, Symbol: symbol, Message: "no fundamentals in mock data"}
	}
	f.DataSource = m.name
	if f.MarketCap == "" {
		f.MarketCap = normalize.FormatMarketCap(f.MarketCapRaw)
	}
	return &f, nil
}

// GetHistoricalData returns the last days stored bars.
func (m *MockProvider) GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error) {
	symbol = NormalizeSymbol(symbol)
	if err := m.begin(ctx, "history", symbol); err != nil {
		return nil, err
	}
	m.mu.RLock()
	bars, ok := m.history[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, &QuoteError{Type: ErrBadSymbol, Provider: m.name, Symbol: symbol, Message: "no history in mock data"}
	}
	out := make([]OHLCV, len(bars))
	copy(out, bars)
	return trimHistory(out, days), nil
}
