package adapters

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiComplete(t *testing.T) {
	srv := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key-0123456789", r.Header.Get("x-goog-api-key"))
		writeJSON(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"peRatio\": 29.4}"}]}}]}`)
	})
	gc, err := NewGeminiCompleter(context.Background(), testProviderConfig(srv.URL), "")
	require.NoError(t, err)
	assert.Equal(t, GeminiName, gc.Name())

	text, err := gc.Complete(context.Background(), "AAPL fundamentals")
	require.NoError(t, err)
	assert.Equal(t, `{"peRatio": 29.4}`, text)
}

func TestGeminiErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "slow backend",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: ErrTimeout,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`, http.StatusInternalServerError)
			},
			want: ErrProvider,
		},
		{
			name: "empty completion",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, `{"candidates":[]}`)
			},
			want: ErrParse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newUpstream(t, tt.handler)
			cfg := testProviderConfig(srv.URL)
			cfg.Timeout = 50 * time.Millisecond
			gc, err := NewGeminiCompleter(context.Background(), cfg, "")
			require.NoError(t, err)

			start := time.Now()
			_, err = gc.Complete(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.want, Kind(err))
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	cfg := testProviderConfig("http://unused")
	cfg.APIKey = " "
	_, err := NewGeminiCompleter(context.Background(), cfg, "")
	assert.Equal(t, ErrConfig, Kind(err))
}
