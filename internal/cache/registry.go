package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Namespace names, one per data kind.
const (
	Quotes       = "quotes"
	Fundamentals = "fundamentals"
	Screeners    = "screeners"
	Exchange     = "exchange"
	Macro        = "macro"
	History      = "history"
)

// DefaultConfigs are the per-kind policies used when no override is given.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		Quotes:       {TTL: 30 * time.Second, MaxEntries: 1000, MaxMemoryBytes: 10 << 20},
		Fundamentals: {TTL: 6 * time.Hour, MaxEntries: 500, MaxMemoryBytes: 20 << 20},
		Screeners:    {TTL: 5 * time.Minute, MaxEntries: 100, MaxMemoryBytes: 10 << 20},
		Exchange:     {TTL: time.Hour, MaxEntries: 200, MaxMemoryBytes: 1 << 20},
		Macro:        {TTL: 12 * time.Hour, MaxEntries: 100, MaxMemoryBytes: 5 << 20},
		History:      {TTL: time.Hour, MaxEntries: 300, MaxMemoryBytes: 50 << 20},
	}
}

// Registry owns the process's namespaces. Build one at startup and pass it to
// every adapter that caches.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// NewRegistry creates every default namespace. Non-zero fields of an override
// replace the default for that namespace; overrides may add new namespaces.
func NewRegistry(overrides map[string]Config) *Registry {
	r := &Registry{namespaces: make(map[string]*Namespace)}
	cfgs := DefaultConfigs()
	for name, o := range overrides {
		cfgs[name] = merge(cfgs[name], o)
	}
	for name, cfg := range cfgs {
		r.namespaces[name] = New(name, cfg)
	}
	return r
}

func merge(base, o Config) Config {
	if o.TTL > 0 {
		base.TTL = o.TTL
	}
	if o.MaxEntries > 0 {
		base.MaxEntries = o.MaxEntries
	}
	if o.MaxMemoryBytes > 0 {
		base.MaxMemoryBytes = o.MaxMemoryBytes
	}
	if o.EvictionPolicy != "" {
		base.EvictionPolicy = o.EvictionPolicy
	}
	if o.SweepInterval != 0 {
		base.SweepInterval = o.SweepInterval
	}
	if o.OnEvict != nil {
		base.OnEvict = o.OnEvict
	}
	if o.OnExpire != nil {
		base.OnExpire = o.OnExpire
	}
	if o.Now != nil {
		base.Now = o.Now
	}
	return base
}

// Get returns the named namespace.
func (r *Registry) Get(name string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[name]
	return ns, ok
}

// Create adds a namespace that is not part of the defaults.
func (r *Registry) Create(name string, cfg Config) (*Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.namespaces[name]; exists {
		return nil, fmt.Errorf("cache namespace %q already exists", name)
	}
	ns := New(name, cfg)
	r.namespaces[name] = ns
	return ns, nil
}

func (r *Registry) must(name string) *Namespace {
	ns, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("cache namespace %q not registered", name))
	}
	return ns
}

func (r *Registry) Quotes() *Namespace       { return r.must(Quotes) }
func (r *Registry) Fundamentals() *Namespace { return r.must(Fundamentals) }
func (r *Registry) Exchange() *Namespace     { return r.must(Exchange) }
func (r *Registry) History() *Namespace      { return r.must(History) }

// Stats returns stats for every namespace, sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if ns, ok := r.Get(name); ok {
			out = append(out, ns.Stats())
		}
	}
	return out
}

// Close stops every namespace's sweeper and clears its entries.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.namespaces {
		ns.Close()
	}
}
