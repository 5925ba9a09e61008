package observ

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// registry lazily creates one vector per metric name. Label names are fixed by
// the first observation of that name; later calls with a different label set
// are dropped and logged.
type registry struct {
	mu       sync.Mutex
	prom     *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	hist     map[string]*prometheus.HistogramVec
}

var reg = newRegistry()

func newRegistry() *registry {
	r := &registry{
		prom:     prometheus.NewRegistry(),
		counters: map[string]*prometheus.CounterVec{},
		gauges:   map[string]*prometheus.GaugeVec{},
		hist:     map[string]*prometheus.HistogramVec{},
	}
	r.prom.MustRegister(prometheus.NewGoCollector())
	return r
}

func labelNames(lbl map[string]string) []string {
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry) counter(name string, labels map[string]string) prometheus.Counter {
	r.mu.Lock()
	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames(labels))
		if err := r.prom.Register(vec); err != nil {
			r.mu.Unlock()
			dropped(name, err)
			return nil
		}
		r.counters[name] = vec
	}
	r.mu.Unlock()
	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		dropped(name, err)
		return nil
	}
	return c
}

func (r *registry) gauge(name string, labels map[string]string) prometheus.Gauge {
	r.mu.Lock()
	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(labels))
		if err := r.prom.Register(vec); err != nil {
			r.mu.Unlock()
			dropped(name, err)
			return nil
		}
		r.gauges[name] = vec
	}
	r.mu.Unlock()
	g, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		dropped(name, err)
		return nil
	}
	return g
}

func (r *registry) histogram(name string, labels map[string]string) prometheus.Observer {
	r.mu.Lock()
	vec, ok := r.hist[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}, labelNames(labels))
		if err := r.prom.Register(vec); err != nil {
			r.mu.Unlock()
			dropped(name, err)
			return nil
		}
		r.hist[name] = vec
	}
	r.mu.Unlock()
	h, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		dropped(name, err)
		return nil
	}
	return h
}

func dropped(name string, err error) {
	Debug("metric_dropped", map[string]any{"metric": name, "error": err.Error()})
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	if c := reg.counter(name, labels); c != nil {
		c.Add(value)
	}
}

func SetGauge(name string, value float64, labels map[string]string) {
	if g := reg.gauge(name, labels); g != nil {
		g.Set(value)
	}
}

func Observe(name string, value float64, labels map[string]string) {
	if h := reg.histogram(name, labels); h != nil {
		h.Observe(value)
	}
}

// RecordDuration records a duration metric in milliseconds
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// CounterValue reads back a counter; zero when it was never incremented.
func CounterValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	vec, ok := reg.counters[name]
	reg.mu.Unlock()
	if !ok {
		return 0
	}
	c, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

// GaugeValue reads back a gauge; zero when it was never set.
func GaugeValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	vec, ok := reg.gauges[name]
	reg.mu.Unlock()
	if !ok {
		return 0
	}
	g, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := g.Write(&m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}

// Handler serves the Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{})
}

var startTime = time.Now()

// Uptime since the process loaded this package.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// Health is a liveness check.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
