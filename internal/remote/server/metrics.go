package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "mze"

// metrics is the per-server telemetry. Each server owns its registry so
// several handlers can live in one process.
type metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	sizes     *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Requests answered, by operation, method and status code.",
			},
			[]string{"op", "method", "code"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent answering requests, by operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "method"},
		),
		sizes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "response_size_bytes",
				Help:      "Size of response payloads in bytes, by operation.",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"op"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.durations, m.sizes, m.inFlight,
	)
	return m
}

// instrument returns middleware recording the metrics of one operation.
func (m *metrics) instrument(op string) func(http.Handler) http.Handler {
	labels := prometheus.Labels{"op": op}
	requests := m.requests.MustCurryWith(labels)
	durations := m.durations.MustCurryWith(labels)
	sizes := m.sizes.MustCurryWith(labels)
	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerInFlight(m.inFlight,
			promhttp.InstrumentHandlerDuration(durations,
				promhttp.InstrumentHandlerCounter(requests,
					promhttp.InstrumentHandlerResponseSize(sizes, next))))
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
