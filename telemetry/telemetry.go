package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalogpub"

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
	SetToCurrentTime()
}

// Vec types for labeled metrics
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

type NoopStat struct{}

type noopCounterVec struct{}
type noopGaugeVec struct{}
type noopHistogramVec struct{}

func (n noopCounterVec) With(labels ...string) Counter     { return NoopStat{} }
func (n noopGaugeVec) With(labels ...string) Gauge         { return NoopStat{} }
func (n noopHistogramVec) With(labels ...string) Histogram { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p *prometheusGaugeVec) With(labelValues ...string) Gauge {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusHistogramVec struct {
	vec *prometheus.HistogramVec
}

func (p *prometheusHistogramVec) With(labelValues ...string) Histogram {
	return p.vec.WithLabelValues(labelValues...)
}

func (n NoopStat) Observe(float64)   {}
func (n NoopStat) Set(float64)       {}
func (n NoopStat) Dec()              {}
func (n NoopStat) Sub(float64)       {}
func (n NoopStat) SetToCurrentTime() {}
func (n NoopStat) Inc()              {}
func (n NoopStat) Add(float64)       {}

// Registry owns the Prometheus registry for one publisher. A nil *Registry,
// or one created disabled, hands out no-op metrics.
type Registry struct {
	reg         *prometheus.Registry
	constLabels prometheus.Labels
}

// NewRegistry creates a registry. When enabled is false every constructor
// returns no-op metrics and Handler returns nil.
func NewRegistry(enabled bool, publisherID string) *Registry {
	r := &Registry{
		constLabels: prometheus.Labels{"publisher_id": publisherID},
	}
	if !enabled {
		return r
	}

	r.reg = prometheus.NewRegistry()
	r.reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.reg.MustRegister(collectors.NewGoCollector())
	return r
}

// Enabled reports whether metrics are collected
func (r *Registry) Enabled() bool {
	return r != nil && r.reg != nil
}

// Gatherer exposes the underlying registry for tests and custom handlers
func (r *Registry) Gatherer() prometheus.Gatherer {
	if !r.Enabled() {
		return nil
	}
	return r.reg
}

func (r *Registry) NewCounter(name string, help string) Counter {
	if !r.Enabled() {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: r.constLabels,
	})

	r.reg.MustRegister(ret)
	return ret
}

func (r *Registry) NewGauge(name string, help string) Gauge {
	if !r.Enabled() {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: r.constLabels,
	})

	r.reg.MustRegister(ret)
	return ret
}

func (r *Registry) NewHistogram(name, help string, buckets []float64) Histogram {
	if !r.Enabled() {
		return NoopStat{}
	}

	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: r.constLabels,
	})

	r.reg.MustRegister(ret)
	return ret
}

func (r *Registry) NewCounterVec(name, help string, labels []string) CounterVec {
	if !r.Enabled() {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: r.constLabels,
	}, labels)

	r.reg.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

func (r *Registry) NewGaugeVec(name, help string, labels []string) GaugeVec {
	if !r.Enabled() {
		return noopGaugeVec{}
	}

	ret := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: r.constLabels,
	}, labels)

	r.reg.MustRegister(ret)
	return &prometheusGaugeVec{vec: ret}
}

func (r *Registry) NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if !r.Enabled() {
		return noopHistogramVec{}
	}

	ret := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: r.constLabels,
	}, labels)

	r.reg.MustRegister(ret)
	return &prometheusHistogramVec{vec: ret}
}

// Handler returns the HTTP handler for Prometheus metrics, nil when disabled
func (r *Registry) Handler() http.Handler {
	if !r.Enabled() {
		return nil
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
