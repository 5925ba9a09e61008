package adapters

import (
	"sync"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// HealthStatus represents the health state of a data provider
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusFailed   HealthStatus = "failed"
)

// ProviderHealth tracks provider reliability and latency for status reporting.
// It does not gate calls; the rate limiter's circuit does that.
type ProviderHealth struct {
	mu                sync.RWMutex
	name              string
	status            HealthStatus
	lastSuccessful    time.Time
	lastError         time.Time
	lastErrorMessage  string
	errorCount        int64
	successCount      int64
	consecutiveErrors int
	latencyEMA        time.Duration

	degradedErrorRate    float64
	failedErrorRate      float64
	maxConsecutiveErrors int
}

// NewProviderHealth creates a new provider health tracker
func NewProviderHealth(name string) *ProviderHealth {
	return &ProviderHealth{
		name:                 name,
		status:               HealthStatusHealthy,
		degradedErrorRate:    0.05,
		failedErrorRate:      0.25,
		maxConsecutiveErrors: 5,
	}
}

// RecordSuccess records a successful upstream call
func (ph *ProviderHealth) RecordSuccess(latency time.Duration) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastSuccessful = time.Now()
	ph.successCount++
	ph.consecutiveErrors = 0
	ph.updateLatency(latency)
	ph.transition(ph.evaluate())
}

// RecordError records a failed upstream call
func (ph *ProviderHealth) RecordError(err error) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastError = time.Now()
	if err != nil {
		ph.lastErrorMessage = err.Error()
	}
	ph.errorCount++
	ph.consecutiveErrors++
	ph.transition(ph.evaluate())
}

func (ph *ProviderHealth) evaluate() HealthStatus {
	if ph.consecutiveErrors >= ph.maxConsecutiveErrors {
		return HealthStatusFailed
	}
	total := ph.successCount + ph.errorCount
	if total == 0 {
		return HealthStatusHealthy
	}
	// A success streak forgives the lifetime error rate.
	if ph.consecutiveErrors == 0 && ph.lastSuccessful.After(ph.lastError) {
		return HealthStatusHealthy
	}
	errorRate := float64(ph.errorCount) / float64(total)
	switch {
	case errorRate >= ph.failedErrorRate:
		return HealthStatusFailed
	case errorRate >= ph.degradedErrorRate:
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

func (ph *ProviderHealth) transition(next HealthStatus) {
	if next == ph.status {
		return
	}
	old := ph.status
	ph.status = next
	observ.Log("provider_status_changed", map[string]any{
		"provider":           ph.name,
		"from":               string(old),
		"to":                 string(next),
		"consecutive_errors": ph.consecutiveErrors,
	})
	observ.SetGauge("provider_status", ph.statusToFloat(), map[string]string{"provider": ph.name})
}

// updateLatency keeps an exponential moving average.
func (ph *ProviderHealth) updateLatency(latency time.Duration) {
	if ph.latencyEMA == 0 {
		ph.latencyEMA = latency
		return
	}
	const alpha = 0.1
	ph.latencyEMA = time.Duration(float64(ph.latencyEMA)*(1-alpha) + float64(latency)*alpha)
}

func (ph *ProviderHealth) statusToFloat() float64 {
	switch ph.status {
	case HealthStatusHealthy:
		return 1.0
	case HealthStatusDegraded:
		return 0.5
	default:
		return 0.0
	}
}

// HealthSnapshot is the JSON view used by the status endpoint.
type HealthSnapshot struct {
	Status            HealthStatus `json:"status"`
	SuccessCount      int64        `json:"successCount"`
	ErrorCount        int64        `json:"errorCount"`
	ErrorRate         float64      `json:"errorRate"`
	ConsecutiveErrors int          `json:"consecutiveErrors"`
	LatencyMs         int64        `json:"latencyMs"`
	LastSuccessful    *time.Time   `json:"lastSuccessful,omitempty"`
	LastError         *time.Time   `json:"lastError,omitempty"`
	LastErrorMessage  string       `json:"lastErrorMessage,omitempty"`
}

// Snapshot returns current health metrics
func (ph *ProviderHealth) Snapshot() HealthSnapshot {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	s := HealthSnapshot{
		Status:            ph.status,
		SuccessCount:      ph.successCount,
		ErrorCount:        ph.errorCount,
		ConsecutiveErrors: ph.consecutiveErrors,
		LatencyMs:         ph.latencyEMA.Milliseconds(),
		LastErrorMessage:  ph.lastErrorMessage,
	}
	if total := ph.successCount + ph.errorCount; total > 0 {
		s.ErrorRate = float64(ph.errorCount) / float64(total)
	}
	if !ph.lastSuccessful.IsZero() {
		t := ph.lastSuccessful
		s.LastSuccessful = &t
	}
	if !ph.lastError.IsZero() {
		t := ph.lastError
		s.LastError = &t
	}
	return s
}
