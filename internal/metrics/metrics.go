// Package metrics exports ndll load and call activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/woxQAQ/ndll/internal/handle"
)

const namespace = "ndll"

// Collector implements ndll.Observer on a private Prometheus registry.
type Collector struct {
	reg *prometheus.Registry

	loads    *prometheus.CounterVec
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	handles  *prometheus.GaugeVec
	memory   prometheus.Gauge
}

// NewCollector creates a collector with every metric registered.
func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Native function loads by outcome.",
		}, []string{"function", "arity", "outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Native function calls.",
		}, []string{"function", "arity"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Native function call latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"function"}),
		handles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles",
			Help:      "Live handles by lifetime class.",
		}, []string{"class"}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raw_memory_bytes",
			Help:      "Bytes held by raw memory blocks.",
		}),
	}
	c.reg.MustRegister(c.loads, c.calls, c.duration, c.handles, c.memory)
	return c
}

// ObserveLoad counts a load attempt.
func (c *Collector) ObserveLoad(name string, arity int, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	c.loads.WithLabelValues(name, arityLabel(arity), outcome).Inc()
}

// ObserveCall records a completed call.
func (c *Collector) ObserveCall(name string, arity int, d time.Duration) {
	c.calls.WithLabelValues(name, arityLabel(arity)).Inc()
	c.duration.WithLabelValues(name).Observe(d.Seconds())
}

// SetRegistryStats publishes a registry snapshot. The registry is not safe for
// concurrent use, so callers take the snapshot on the goroutine owning it.
func (c *Collector) SetRegistryStats(s handle.Stats) {
	c.handles.WithLabelValues("transient").Set(float64(s.Transient))
	c.handles.WithLabelValues("memory").Set(float64(s.Memory))
	c.handles.WithLabelValues("persistent").Set(float64(s.Persistent))
	c.memory.Set(float64(s.MemoryBytes))
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func arityLabel(arity int) string {
	if arity < 0 {
		return "mult"
	}
	return strconv.Itoa(arity)
}
