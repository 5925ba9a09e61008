package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// BatchQuoter is what the refresher drives; *Orchestrator satisfies it.
type BatchQuoter interface {
	GetBatchQuotes(ctx context.Context, symbols []string) ([]Quote, error)
}

// Refresher keeps watchlist quotes warm in the quotes cache by fetching them
// on a fixed interval.
type Refresher struct {
	source          BatchQuoter
	watchlist       []string
	refreshInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	summary RefreshSummary
}

// RefreshSummary describes the last completed cycle.
type RefreshSummary struct {
	At      time.Time     `json:"at"`
	Served  int           `json:"served"`
	Failed  int           `json:"failed"`
	Latency time.Duration `json:"latencyNs"`
}

// NewRefresher creates a background quote refresher
func NewRefresher(source BatchQuoter, watchlist []string, refreshInterval time.Duration) *Refresher {
	if refreshInterval <= 0 {
		refreshInterval = time.Minute
	}
	return &Refresher{
		source:          source,
		watchlist:       append([]string(nil), watchlist...),
		refreshInterval: refreshInterval,
	}
}

// Start runs one refresh immediately, then one per interval until ctx is
// cancelled or Stop is called. Starting twice is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || len(r.watchlist) == 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.refreshLoop(ctx, r.done)
	observ.Log("refresher_started", map[string]any{
		"symbols":     len(r.watchlist),
		"interval_ms": r.refreshInterval.Milliseconds(),
	})
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	observ.Log("refresher_stopped", nil)
}

// Last returns the summary of the most recent cycle.
func (r *Refresher) Last() RefreshSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Refresher) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()

	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	start := time.Now()
	quotes, err := r.source.GetBatchQuotes(ctx, r.watchlist)
	latency := time.Since(start)
	observ.RecordDuration("quote_refresh_latency", latency, nil)
	if err != nil {
		observ.IncCounter("quote_refresh_error_total", nil)
		observ.Warn("quote_refresh_failed", map[string]any{"error": err.Error()})
		return
	}

	s := RefreshSummary{At: time.Now().UTC(), Latency: latency}
	for _, q := range quotes {
		if q.Failed() {
			s.Failed++
		} else {
			s.Served++
		}
	}
	r.mu.Lock()
	r.summary = s
	r.mu.Unlock()

	observ.IncCounter("quote_refresh_success_total", nil)
	observ.SetGauge("quote_refresh_valid_count", float64(s.Served), nil)
	observ.Debug("quote_refresh", map[string]any{
		"served":     s.Served,
		"failed":     s.Failed,
		"latency_ms": latency.Milliseconds(),
	})
}
