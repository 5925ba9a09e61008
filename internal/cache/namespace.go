package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

// EvictionPolicy selects the victim when a namespace is over budget.
type EvictionPolicy string

const (
	PolicyLRU  EvictionPolicy = "lru"  // oldest last access
	PolicyFIFO EvictionPolicy = "fifo" // oldest insertion
)

// Reason records why an entry left the namespace.
type Reason string

const (
	ReasonExpired  Reason = "expired"
	ReasonCapacity Reason = "capacity"
	ReasonMemory   Reason = "memory"
	ReasonExplicit Reason = "explicit"
)

// fallbackEntrySize is charged when a value cannot be serialized.
const fallbackEntrySize = 1024

// Config is the per-namespace policy.
type Config struct {
	TTL            time.Duration
	MaxEntries     int
	MaxMemoryBytes int64
	EvictionPolicy EvictionPolicy
	// SweepInterval drives the background expiry scan. Negative disables it.
	SweepInterval time.Duration

	OnEvict  func(key string, value any, reason Reason)
	OnExpire func(key string, value any)
	Now      func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = PolicyLRU
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Entry is a cached value with its lifetime. An entry is live while now < ExpiresAt.
type Entry struct {
	Value     any
	CreatedAt time.Time
	ExpiresAt time.Time
	SizeBytes int64

	seq uint64 // insertion order
}

type access struct {
	at  time.Time
	seq uint64
}

// Stats is a point-in-time view of a namespace.
type Stats struct {
	Name           string  `json:"name"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Sets           int64   `json:"sets"`
	Deletes        int64   `json:"deletes"`
	Evictions      int64   `json:"evictions"`
	Expirations    int64   `json:"expirations"`
	MemoryUsed     int64   `json:"memoryUsed"`
	Size           int     `json:"size"`
	HitRate        float64 `json:"hitRate"`
	MaxEntries     int     `json:"maxEntries"`
	MaxMemoryBytes int64   `json:"maxMemoryBytes"`
	TTLMs          int64   `json:"ttlMs"`
	UptimeMs       int64   `json:"uptimeMs"`
}

// Namespace is an isolated TTL cache partition with LRU and memory accounting.
// It is safe for concurrent use.
type Namespace struct {
	name string
	cfg  Config

	mu         sync.Mutex
	entries    map[string]*Entry
	lastAccess map[string]access
	seq        uint64
	stats      Stats
	createdAt  time.Time

	flight singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a namespace and starts its background sweep.
func New(name string, cfg Config) *Namespace {
	cfg = cfg.withDefaults()
	ns := &Namespace{
		name:       name,
		cfg:        cfg,
		entries:    make(map[string]*Entry),
		lastAccess: make(map[string]access),
		createdAt:  cfg.Now(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go ns.sweepLoop(cfg.SweepInterval)
	} else {
		close(ns.done)
	}

	observ.Log("cache_namespace_created", map[string]any{
		"namespace":        name,
		"ttl_ms":           cfg.TTL.Milliseconds(),
		"max_entries":      cfg.MaxEntries,
		"max_memory_bytes": cfg.MaxMemoryBytes,
		"eviction_policy":  string(cfg.EvictionPolicy),
	})
	return ns
}

// Name returns the namespace name.
func (ns *Namespace) Name() string { return ns.name }

// Get returns the live value for key. Expired entries are removed and counted
// as an expiration plus a miss.
func (ns *Namespace) Get(key string) (any, bool) {
	ns.mu.Lock()
	now := ns.cfg.Now()
	e, ok := ns.entries[key]
	if !ok {
		ns.stats.Misses++
		ns.mu.Unlock()
		ns.count("cache_misses_total")
		return nil, false
	}
	if !now.Before(e.ExpiresAt) {
		cb := ns.removeLocked(key, ReasonExpired)
		ns.stats.Misses++
		ns.mu.Unlock()
		cb()
		ns.count("cache_misses_total")
		return nil, false
	}
	ns.touchLocked(key, now)
	ns.stats.Hits++
	v := e.Value
	ns.mu.Unlock()
	ns.count("cache_hits_total")
	return v, true
}

// Has reports whether key is live without touching access order or hit stats.
// An expired entry is still removed.
func (ns *Namespace) Has(key string) bool {
	_, ok := ns.peek(key)
	return ok
}

func (ns *Namespace) peek(key string) (any, bool) {
	ns.mu.Lock()
	e, ok := ns.entries[key]
	if !ok {
		ns.mu.Unlock()
		return nil, false
	}
	if !ns.cfg.Now().Before(e.ExpiresAt) {
		cb := ns.removeLocked(key, ReasonExpired)
		ns.mu.Unlock()
		cb()
		return nil, false
	}
	v := e.Value
	ns.mu.Unlock()
	return v, true
}

// Set stores value under key. ttl <= 0 uses the namespace TTL. Room is made
// first: one victim when at MaxEntries, then more until the memory budget fits.
// A value larger than the whole memory budget is not cached.
func (ns *Namespace) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ns.cfg.TTL
	}
	size := approxSize(value)

	ns.mu.Lock()
	if ns.cfg.MaxMemoryBytes > 0 && size > ns.cfg.MaxMemoryBytes {
		ns.mu.Unlock()
		observ.Warn("cache_value_too_large", map[string]any{
			"namespace": ns.name, "key": key, "size_bytes": size,
		})
		return
	}

	var pending []func()
	if old, ok := ns.entries[key]; ok {
		ns.stats.MemoryUsed -= old.SizeBytes
		delete(ns.entries, key)
		delete(ns.lastAccess, key)
	}
	if ns.cfg.MaxEntries > 0 && len(ns.entries) >= ns.cfg.MaxEntries {
		if victim, ok := ns.victimLocked(); ok {
			pending = append(pending, ns.removeLocked(victim, ReasonCapacity))
		}
	}
	for ns.cfg.MaxMemoryBytes > 0 && ns.stats.MemoryUsed+size > ns.cfg.MaxMemoryBytes {
		victim, ok := ns.victimLocked()
		if !ok {
			break
		}
		pending = append(pending, ns.removeLocked(victim, ReasonMemory))
	}

	now := ns.cfg.Now()
	ns.seq++
	ns.entries[key] = &Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: size,
		seq:       ns.seq,
	}
	ns.touchLocked(key, now)
	ns.stats.Sets++
	ns.stats.MemoryUsed += size
	mem := ns.stats.MemoryUsed
	ns.mu.Unlock()

	for _, cb := range pending {
		cb()
	}
	observ.SetGauge("cache_memory_bytes", float64(mem), map[string]string{"namespace": ns.name})
}

// Delete removes key, if present.
func (ns *Namespace) Delete(key string) bool {
	ns.mu.Lock()
	if _, ok := ns.entries[key]; !ok {
		ns.mu.Unlock()
		return false
	}
	cb := ns.removeLocked(key, ReasonExplicit)
	ns.mu.Unlock()
	cb()
	return true
}

// GetOrSet returns the cached value or runs factory, caches its result and
// returns it. Concurrent misses on the same key share one factory call.
// A factory error is returned to every waiter and nothing is cached.
//
// The shared call gets a context that keeps ctx's values but not its
// cancellation, so a caller that gives up does not fail the others. Each
// caller still returns ctx.Err() as soon as its own ctx is done.
func (ns *Namespace) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) (any, error)) (any, error) {
	if v, ok := ns.Get(key); ok {
		return v, nil
	}
	return ns.share(ctx, key, func(fctx context.Context) (any, error) {
		if v, ok := ns.peek(key); ok {
			return v, nil
		}
		v, err := factory(fctx)
		if err != nil {
			return nil, err
		}
		ns.Set(key, v, ttl)
		return v, nil
	})
}

// share runs fn once per key across concurrent callers.
func (ns *Namespace) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := ns.flight.DoChan(key, func() (any, error) { return fn(detached) })
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetOrSetAs is the typed form of Namespace.GetOrSet. A cached value of a
// different type is treated as a miss and replaced.
func GetOrSetAs[V any](ctx context.Context, ns *Namespace, key string, ttl time.Duration, factory func(context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := ns.Get(key); ok {
		if tv, ok := v.(V); ok {
			return tv, nil
		}
	}
	v, err := ns.share(ctx, key, func(fctx context.Context) (any, error) {
		if v, ok := ns.peek(key); ok {
			if tv, ok := v.(V); ok {
				return tv, nil
			}
		}
		v, err := factory(fctx)
		if err != nil {
			return nil, err
		}
		ns.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	tv, ok := v.(V)
	if !ok {
		return zero, nil
	}
	return tv, nil
}

// Keys lists live keys in no particular order.
func (ns *Namespace) Keys() []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	now := ns.cfg.Now()
	keys := make([]string, 0, len(ns.entries))
	for k, e := range ns.entries {
		if now.Before(e.ExpiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Clear drops every entry. Callbacks are not invoked.
func (ns *Namespace) Clear() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.entries = make(map[string]*Entry)
	ns.lastAccess = make(map[string]access)
	ns.stats.MemoryUsed = 0
}

// Sweep removes every expired entry and returns how many were dropped.
func (ns *Namespace) Sweep() int {
	ns.mu.Lock()
	now := ns.cfg.Now()
	var pending []func()
	for k, e := range ns.entries {
		if !now.Before(e.ExpiresAt) {
			pending = append(pending, ns.removeLocked(k, ReasonExpired))
		}
	}
	ns.mu.Unlock()

	for _, cb := range pending {
		cb()
	}
	if len(pending) > 0 {
		observ.Debug("cache_sweep", map[string]any{"namespace": ns.name, "expired": len(pending)})
	}
	return len(pending)
}

// Stats returns current counters.
func (ns *Namespace) Stats() Stats {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	s := ns.stats
	s.Name = ns.name
	s.Size = len(ns.entries)
	s.MaxEntries = ns.cfg.MaxEntries
	s.MaxMemoryBytes = ns.cfg.MaxMemoryBytes
	s.TTLMs = ns.cfg.TTL.Milliseconds()
	s.UptimeMs = ns.cfg.Now().Sub(ns.createdAt).Milliseconds()
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the sweeper and clears entries. It is safe to call twice.
func (ns *Namespace) Close() {
	ns.stopOnce.Do(func() {
		close(ns.stop)
		<-ns.done
		ns.Clear()
	})
}

func (ns *Namespace) sweepLoop(every time.Duration) {
	defer close(ns.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ns.stop:
			return
		case <-ticker.C:
			ns.Sweep()
		}
	}
}

func (ns *Namespace) touchLocked(key string, now time.Time) {
	ns.seq++
	ns.lastAccess[key] = access{at: now, seq: ns.seq}
}

// victimLocked picks the entry to evict under the configured policy.
func (ns *Namespace) victimLocked() (string, bool) {
	var (
		victim string
		best   uint64
		found  bool
	)
	for k, e := range ns.entries {
		order := e.seq
		if ns.cfg.EvictionPolicy != PolicyFIFO {
			order = ns.lastAccess[k].seq
		}
		if !found || order < best {
			victim, best, found = k, order, true
		}
	}
	return victim, found
}

// removeLocked drops key and returns the callback to run once the lock is released.
func (ns *Namespace) removeLocked(key string, reason Reason) func() {
	e, ok := ns.entries[key]
	if !ok {
		return func() {}
	}
	delete(ns.entries, key)
	delete(ns.lastAccess, key)
	ns.stats.MemoryUsed -= e.SizeBytes

	switch reason {
	case ReasonExpired:
		ns.stats.Expirations++
	case ReasonExplicit:
		ns.stats.Deletes++
	default:
		ns.stats.Evictions++
	}

	name, value := ns.name, e.Value
	onEvict, onExpire := ns.cfg.OnEvict, ns.cfg.OnExpire
	return func() {
		observ.IncCounter("cache_evictions_total", map[string]string{"namespace": name, "reason": string(reason)})
		if reason == ReasonExpired {
			if onExpire != nil {
				onExpire(key, value)
			}
			return
		}
		if onEvict != nil {
			onEvict(key, value, reason)
		}
	}
}

func (ns *Namespace) count(metric string) {
	observ.IncCounter(metric, map[string]string{"namespace": ns.name})
}

// approxSize charges two bytes per serialized byte to cover non-ASCII text.
func approxSize(v any) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return fallbackEntrySize
	}
	return int64(len(b)) * 2
}
