// Package prom exports dbgi cache metrics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/dicache/dbgi"
)

// Adapter implements dbgi.Metrics. All Prometheus metric types are
// goroutine-safe, so Adapter is too.
type Adapter struct {
	requests    *prometheus.CounterVec
	commits     *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	evicts      prometheus.Counter
	convStarted prometheus.Counter
	convThreads prometheus.Gauge
	convRunning prometheus.Gauge
}

// New constructs an adapter and registers its collectors.
//   - reg:          registry (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      namespace and subsystem
//   - constLabels:  static labels on every metric (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, []string{label})
	}
	a := &Adapter{
		requests: counterVec("requests_total", "Load requests queued, by priority", "priority"),
		commits:  counterVec("commits_total", "Loads committed, by parse result", "result"),
		lookups:  counterVec("lookups_total", "Lookups, by result", "result"),
		evicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evictions_total",
			Help:        "Records removed after their last reference",
			ConstLabels: constLabels,
		}),
		convStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "conversions_started_total",
			Help:        "Converter subprocesses launched",
			ConstLabels: constLabels,
		}),
		convThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "conversions_running_threads",
			Help:        "Thread budget held by running conversions",
			ConstLabels: constLabels,
		}),
		convRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "conversions_running",
			Help:        "Converter subprocesses running",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.requests, a.commits, a.lookups, a.evicts, a.convStarted, a.convThreads, a.convRunning)
	return a
}

func (a *Adapter) Request(high bool) {
	a.requests.WithLabelValues(choose(high, "high", "low")).Inc()
}

func (a *Adapter) Commit(ok bool) {
	a.commits.WithLabelValues(choose(ok, "ok", "failed")).Inc()
}

func (a *Adapter) Lookup(hit bool) {
	a.lookups.WithLabelValues(choose(hit, "hit", "miss")).Inc()
}

func (a *Adapter) Evict() { a.evicts.Inc() }

func (a *Adapter) ConversionStart(threads int) {
	a.convStarted.Inc()
	a.convRunning.Inc()
	a.convThreads.Add(float64(threads))
}

func (a *Adapter) ConversionDone(threads int) {
	a.convRunning.Dec()
	a.convThreads.Sub(float64(threads))
}

func choose(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

// Compile-time check: ensure Adapter implements dbgi.Metrics.
var _ dbgi.Metrics = (*Adapter)(nil)
