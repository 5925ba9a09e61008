package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/ratelimit"
)

func TestMain(m *testing.M) {
	observ.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// newTestRegistry returns a registry without background sweepers.
func newTestRegistry(t *testing.T) *cache.Registry {
	t.Helper()
	overrides := make(map[string]cache.Config)
	for name := range cache.DefaultConfigs() {
		overrides[name] = cache.Config{SweepInterval: -1}
	}
	reg := cache.NewRegistry(overrides)
	t.Cleanup(reg.Close)
	return reg
}

func testProviderConfig(baseURL string) ProviderConfig {
	return ProviderConfig{
		BaseURL: baseURL,
		APIKey:  "test-key-0123456789",
		Timeout: 2 * time.Second,
		Limits:  ratelimit.Config{MaxCallsPerMinute: 1000},
		Policy:  NewSymbolPolicy([]string{"BTC/USD"}),
	}
}

// upstream is an httptest server that counts requests.
type upstream struct {
	*httptest.Server
	hits atomic.Int64
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

// fakeCompleter returns a canned reply.
type fakeCompleter struct {
	name  string
	reply string
	err   error
	calls atomic.Int64
}

func (f *fakeCompleter) Name() string { return f.name }

func (f *fakeCompleter) Complete(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

func ptr(v float64) *float64 { return &v }
