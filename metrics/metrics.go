// Package metrics holds the Prometheus collectors exported by the
// LockedWorlds node. Every collector is registered on a package-owned
// registry so tests and embedded nodes never collide with the global
// prometheus.DefaultRegisterer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a prometheus.Registry with a fixed namespace.
type Registry struct {
	reg       *prometheus.Registry
	namespace string
}

// NewRegistry returns an empty registry whose collectors are prefixed with
// namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{reg: prometheus.NewRegistry(), namespace: namespace}
}

// WithRuntime adds the Go runtime and process collectors.
func (r *Registry) WithRuntime() *Registry {
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Counter registers and returns a counter.
func (r *Registry) Counter(subsystem, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	r.reg.MustRegister(c)
	return c
}

// CounterVec registers and returns a labelled counter.
func (r *Registry) CounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	r.reg.MustRegister(c)
	return c
}

// Gauge registers and returns a gauge.
func (r *Registry) Gauge(subsystem, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
	r.reg.MustRegister(g)
	return g
}

// Histogram registers and returns a histogram with the default buckets.
func (r *Registry) Histogram(subsystem, name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	})
	r.reg.MustRegister(h)
	return h
}

// Gatherer exposes the underlying registry for scraping in tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
