package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreatesDefaultNamespaces(t *testing.T) {
	r := NewRegistry(map[string]Config{
		Quotes: {TTL: 5 * time.Second, SweepInterval: -1},
	})
	defer r.Close()

	for _, name := range []string{Quotes, Fundamentals, Screeners, Exchange, Macro, History} {
		_, ok := r.Get(name)
		assert.True(t, ok, name)
	}

	stats := r.Stats()
	require.Len(t, stats, 6)
	assert.Equal(t, Exchange, stats[0].Name)

	q := r.Quotes().Stats()
	assert.Equal(t, int64(5000), q.TTLMs)
	assert.Equal(t, 1000, q.MaxEntries, "unset override fields keep defaults")
	assert.Equal(t, int64((6 * time.Hour).Milliseconds()), r.Fundamentals().Stats().TTLMs)
}

func TestRegistryNamespacesAreIsolated(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	r.Quotes().Set("AAPL", 1, 0)
	assert.True(t, r.Quotes().Has("AAPL"))
	assert.False(t, r.Fundamentals().Has("AAPL"))
}

func TestRegistryCreateRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	ns, err := r.Create("crypto", Config{TTL: time.Second, SweepInterval: -1})
	require.NoError(t, err)
	assert.Equal(t, "crypto", ns.Name())

	_, err = r.Create(Quotes, Config{})
	assert.Error(t, err)
}
