// Package metrics exposes the gateway's Prometheus collectors and the
// in-process benchmark window behind /benchmark.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gateway collector on its own registry so tests
// can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	DecisionsTotal    *prometheus.CounterVec
	DecisionLatencyMS *prometheus.HistogramVec
	RateLimitHits     prometheus.Counter
	ActiveIntents     prometheus.Gauge
	UptimeSeconds     prometheus.GaugeFunc
}

// New creates and registers the gateway collectors. start anchors the
// uptime gauge.
func New(start time.Time) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edon_decisions_total",
				Help: "Total number of governance decisions",
			},
			[]string{"verdict", "reason_code"},
		),
		DecisionLatencyMS: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edon_decision_latency_ms",
				Help:    "Decision evaluation latency in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
			},
			[]string{"endpoint"},
		),
		RateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "edon_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
		),
		ActiveIntents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "edon_active_intents",
				Help: "Number of active intent contracts currently registered",
			},
		),
		UptimeSeconds: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "edon_uptime_seconds",
				Help: "Gateway uptime in seconds",
			},
			func() float64 { return time.Since(start).Seconds() },
		),
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision records one governance decision across the
// Prometheus collectors.
func (m *Metrics) ObserveDecision(verdict, reasonCode, endpoint string, latencyMS float64) {
	m.DecisionsTotal.WithLabelValues(verdict, reasonCode).Inc()
	m.DecisionLatencyMS.WithLabelValues(endpoint).Observe(latencyMS)
}
