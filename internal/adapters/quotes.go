package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/ratelimit"
)

// Provider is anything with an upstream name.
type Provider interface {
	Name() string
}

// QuoteProvider fetches a normalized quote for one symbol.
type QuoteProvider interface {
	Provider
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// BatchQuoteProvider fetches several quotes at once. Failed symbols come back
// as error-marked quotes rather than failing the whole call.
type BatchQuoteProvider interface {
	QuoteProvider
	GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error)
}

// FundamentalsProvider fetches company fundamentals.
type FundamentalsProvider interface {
	Provider
	GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
}

// HistoryProvider fetches daily bars, oldest first.
type HistoryProvider interface {
	Provider
	GetHistoricalData(ctx context.Context, symbol string, days int) ([]OHLCV, error)
}

// Limited is implemented by providers that pace themselves with a limiter.
type Limited interface {
	Limiter() *ratelimit.Limiter
}

// Quote represents normalized market data from any provider. Numeric fields
// are nil when the provider did not supply them.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         *float64  `json:"price"`
	Open          *float64  `json:"open"`
	High          *float64  `json:"high"`
	Low           *float64  `json:"low"`
	Close         *float64  `json:"close"`
	Volume        *float64  `json:"volume"`
	Change        *float64  `json:"change"`
	ChangePercent *float64  `json:"changePercent"`
	PreviousClose *float64  `json:"previousClose"`
	MarketCap     *float64  `json:"marketCap"`
	TrailingPE    *float64  `json:"trailingPE"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`

	// Error and ErrorType mark a symbol that could not be served in a batch.
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}

// OHLCV is one daily bar.
type OHLCV struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Failed reports whether q is an error marker.
func (q *Quote) Failed() bool {
	return q.Error != ""
}

// UnavailableQuote is the per-symbol marker returned in place of a quote.
func UnavailableQuote(symbol string, err error) Quote {
	q := Quote{Symbol: symbol, Error: "temporarily unavailable", ErrorType: ErrUnavailable}
	if err != nil {
		q.Error = err.Error()
		q.ErrorType = Kind(err)
	}
	return q
}

// ValidateQuote rejects quotes without a usable price (fail closed).
func ValidateQuote(quote *Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is nil")
	}
	quote.Symbol = strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if quote.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if quote.Failed() {
		return fmt.Errorf("%s: %s", quote.Symbol, quote.Error)
	}
	if quote.Price == nil || *quote.Price <= 0 {
		return fmt.Errorf("invalid price for %s", quote.Symbol)
	}
	if quote.Volume != nil && *quote.Volume < 0 {
		return fmt.Errorf("negative volume: %.0f", *quote.Volume)
	}
	if quote.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", quote.Timestamp)
	}
	return nil
}

// Error kinds carried by QuoteError.Type.
const (
	ErrConfig      = "config"
	ErrCircuitOpen = "circuit_open"
	ErrRateLimit   = "rate_limit"
	ErrTimeout     = "timeout"
	ErrNetwork     = "network"
	ErrProvider    = "provider_error"
	ErrBadSymbol   = "bad_symbol"
	ErrUnavailable = "unavailable"
	ErrParse       = "parse"
	ErrExhausted   = "exhausted"
)

// QuoteError represents different types of upstream fetch errors
type QuoteError struct {
	Type     string
	Provider string
	Symbol   string
	Message  string
	Cause    error
}

func (e *QuoteError) Error() string {
	prefix := e.Type
	if e.Provider != "" {
		prefix = e.Provider + " " + e.Type
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", prefix, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", prefix, e.Symbol, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Cause }

// Common error constructors
func NewConfigError(provider, message string) *QuoteError {
	return &QuoteError{Type: ErrConfig, Provider: provider, Message: message}
}

func NewNetworkError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: ErrNetwork, Symbol: symbol, Message: message, Cause: cause}
}

func NewTimeoutError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: ErrTimeout, Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *QuoteError {
	return &QuoteError{Type: ErrRateLimit, Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: ErrProvider, Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *QuoteError {
	return &QuoteError{Type: ErrBadSymbol, Symbol: symbol, Message: message}
}

func NewUnavailableError(symbol, message string) *QuoteError {
	return &QuoteError{Type: ErrUnavailable, Symbol: symbol, Message: message}
}

func NewParseError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: ErrParse, Symbol: symbol, Message: message, Cause: cause}
}

func newCircuitOpenError(symbol string, cause error) *QuoteError {
	return &QuoteError{Type: ErrCircuitOpen, Symbol: symbol, Message: "provider paused after repeated failures", Cause: cause}
}

// Kind returns the QuoteError type of err, "circuit_open" for a bare limiter
// error, or "" when err is not classified.
func Kind(err error) string {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Type
	}
	if errors.Is(err, ratelimit.ErrCircuitOpen) {
		return ErrCircuitOpen
	}
	return ""
}

// IsSymbolSpecific reports whether err concerns one symbol rather than the
// provider as a whole.
func IsSymbolSpecific(err error) bool {
	switch Kind(err) {
	case ErrBadSymbol, ErrUnavailable:
		return true
	}
	return false
}
