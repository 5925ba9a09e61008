package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/adapters"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type batchRequest struct {
	Symbols []string `json:"symbols"`
}

type BatchResponse struct {
	Quotes    []adapters.Quote `json:"quotes"`
	Requested int              `json:"requested"`
	Served    int              `json:"served"`
	Timestamp time.Time        `json:"timestamp"`
}

type HistoryResponse struct {
	Symbol string           `json:"symbol"`
	Days   int              `json:"days"`
	Data   []adapters.OHLCV `json:"data"`
}

type CacheStatsResponse struct {
	Namespaces []cache.Stats `json:"namespaces"`
}

type ProvidersResponse struct {
	Providers []adapters.ProviderStatus `json:"providers"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: requestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// writeFailure maps an adapter error onto a status code.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := adapters.Kind(err)
	if code == "" {
		code = "internal"
	}
	writeError(w, r, statusFor(err), code, err.Error())
}

func statusFor(err error) int {
	switch adapters.Kind(err) {
	case adapters.ErrBadSymbol, adapters.ErrUnavailable:
		return http.StatusNotFound
	case adapters.ErrCircuitOpen, adapters.ErrRateLimit:
		return http.StatusServiceUnavailable
	case adapters.ErrTimeout:
		return http.StatusGatewayTimeout
	case adapters.ErrConfig:
		return http.StatusInternalServerError
	case adapters.ErrExhausted:
		if onlySymbolFailures(err) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// onlySymbolFailures reports whether every provider rejected the symbol
// itself, as opposed to being down or throttled.
func onlySymbolFailures(err error) bool {
	var qe *adapters.QuoteError
	if !errors.As(err, &qe) {
		return false
	}
	joined, ok := qe.Cause.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	causes := joined.Unwrap()
	if len(causes) == 0 {
		return false
	}
	for _, c := range causes {
		if !adapters.IsSymbolSpecific(c) {
			return false
		}
	}
	return true
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// GET /api/market/quote/{symbol}
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.data.GetQuote(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// POST /api/market/batch-quotes
func (s *Server) handleBatchQuotes(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "body must be {\"symbols\": [...]}: "+err.Error())
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "symbols must not be empty")
		return
	}
	if limit := s.config.MaxBatchSymbols; limit > 0 && len(req.Symbols) > limit {
		writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Sprintf("at most %d symbols per batch", limit))
		return
	}

	quotes, err := s.data.GetBatchQuotes(r.Context(), req.Symbols)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	served := 0
	for i := range quotes {
		if !quotes[i].Failed() {
			served++
		}
	}
	writeJSON(w, http.StatusOK, BatchResponse{
		Quotes:    quotes,
		Requested: len(req.Symbols),
		Served:    served,
		Timestamp: time.Now().UTC(),
	})
}

// GET /api/market/history/{symbol}?days=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", "days must be an integer")
			return
		}
		days = n
	}
	symbol := mux.Vars(r)["symbol"]
	bars, err := s.data.GetHistoricalData(r.Context(), symbol, days)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Symbol: adapters.NormalizeSymbol(symbol),
		Days:   len(bars),
		Data:   bars,
	})
}

// GET /api/fundamentals/{symbol}
func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.data.GetFundamentals(r.Context(), mux.Vars(r)["symbol"]))
}

// GET /api/fundamentals-perplexity/{symbol} queries the AI tier directly.
func (s *Server) handleSecondaryFundamentals(w http.ResponseWriter, r *http.Request) {
	sec := s.data.Secondary()
	if sec == nil {
		writeError(w, r, http.StatusServiceUnavailable, adapters.ErrConfig, "secondary fundamentals tier is not configured")
		return
	}
	symbol := adapters.NormalizeSymbol(mux.Vars(r)["symbol"])
	f, err := sec.GetFundamentals(r.Context(), symbol)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GET /api/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	var stats []cache.Stats
	if s.caches != nil {
		stats = s.caches.Stats()
	}
	writeJSON(w, http.StatusOK, CacheStatsResponse{Namespaces: stats})
}

// GET /api/providers/status
func (s *Server) handleProvidersStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProvidersResponse{Providers: s.data.Status()})
}
