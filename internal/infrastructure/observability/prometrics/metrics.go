package prometrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yhchiang-dev/shopledger/internal/observability"
)

// Registry exposes the subset of Prometheus registry functionality needed by the application.
type Registry interface {
	Counter(name string, help string, labelKeys ...string) observability.Counter
	Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram
}

type registry struct {
	counters   sync.Map // name -> *prometheus.CounterVec
	histograms sync.Map // name -> *prometheus.HistogramVec
	namespace  string
	subsystem  string
}

func New(namespace, subsystem string) Registry {
	return &registry{namespace: namespace, subsystem: subsystem}
}

type counter struct{ v *prometheus.CounterVec }

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.v.With(labelMap(labels)).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return &boundCounter{v: c.v, labels: labelMap(labels)}
}

type boundCounter struct {
	v      *prometheus.CounterVec
	labels prometheus.Labels
}

func (c *boundCounter) Add(d float64) {
	if c == nil || c.v == nil {
		return
	}
	c.v.With(c.labels).Add(d)
}

type histogram struct{ v *prometheus.HistogramVec }

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelMap(labels)).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return &boundHistogram{v: h.v, labels: labelMap(labels)}
}

type boundHistogram struct {
	v      *prometheus.HistogramVec
	labels prometheus.Labels
}

func (h *boundHistogram) Observe(v float64) {
	if h == nil || h.v == nil {
		return
	}
	h.v.With(h.labels).Observe(v)
}

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

func (r *registry) Counter(name string, help string, labelKeys ...string) observability.Counter {
	// ensure only registered once
	if v, ok := r.counters.Load(name); ok {
		return &counter{v: v.(*prometheus.CounterVec)}
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help,
	}, labelKeys)
	prometheus.MustRegister(cv)
	r.counters.Store(name, cv)
	return &counter{v: cv}
}

func (r *registry) Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram {
	if v, ok := r.histograms.Load(name); ok {
		return &histogram{v: v.(*prometheus.HistogramVec)}
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	prometheus.MustRegister(hv)
	r.histograms.Store(name, hv)
	return &histogram{v: hv}
}

type metricSpec struct {
	help      string
	labelKeys []string
	histogram bool
	buckets   []float64
}

var specs = map[observability.MetricKey]metricSpec{
	observability.MUsecaseRequests: {
		help:      "Total number of use case invocations.",
		labelKeys: []string{"use_case", "outcome"},
	},
	observability.MUsecaseDuration: {
		help:      "Duration of use case execution in seconds.",
		labelKeys: []string{"use_case"},
		histogram: true,
	},
	observability.MHTTPRequests: {
		help:      "Total number of HTTP requests.",
		labelKeys: []string{"method", "route", "status"},
	},
	observability.MHTTPRequestDuration: {
		help:      "HTTP request duration in seconds.",
		labelKeys: []string{"method", "route", "status"},
		histogram: true,
	},
	observability.MGatewayRequests: {
		help:      "Total number of payment gateway calls.",
		labelKeys: []string{"endpoint", "outcome"},
	},
	observability.MGatewayRequestDuration: {
		help:      "Payment gateway call duration in seconds.",
		labelKeys: []string{"endpoint"},
		histogram: true,
	},
	observability.MStockAlerts: {
		help:      "Stock alert events raised by the ledger.",
		labelKeys: []string{"kind"},
	},
	observability.MDanglingTransactions: {
		help: "Gateway transactions that succeeded externally but failed to persist.",
	},
	observability.MAlertListenerFailures: {
		help: "Alert listener invocations that errored or panicked.",
	},
}

// Provider implements observability.Metrics with this service's label sets
// baked in per metric key. Unknown keys fall back to nop instruments so a
// typo cannot panic the registry.
type Provider struct {
	reg Registry
}

func NewProvider(namespace, subsystem string) *Provider {
	return &Provider{reg: New(namespace, subsystem)}
}

func (p *Provider) Counter(name observability.MetricKey) observability.Counter {
	spec, ok := specs[name]
	if !ok || spec.histogram {
		return observability.NopMetrics().Counter(name)
	}
	return p.reg.Counter(string(name), spec.help, spec.labelKeys...)
}

func (p *Provider) Histogram(name observability.MetricKey) observability.Histogram {
	spec, ok := specs[name]
	if !ok || !spec.histogram {
		return observability.NopMetrics().Histogram(name)
	}
	buckets := spec.buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return p.reg.Histogram(string(name), spec.help, buckets, spec.labelKeys...)
}
