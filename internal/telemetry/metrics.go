// Package telemetry exposes dispatch metrics to Prometheus and exports
// traces over OTLP.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/chatbot/internal/dispatch"
)

const namespace = "chatbot"

var _ dispatch.Metrics = (*Metrics)(nil)

// Metrics implements dispatch.Metrics on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatches *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	duration   prometheus.Histogram
	switches   prometheus.Counter
	history    prometheus.Gauge
}

// NewMetrics creates and registers the collectors, along with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Completed dispatches by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Backend attempts by HTTP method and result.",
		}, []string{"method", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Messages dropped before dispatch, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a dispatch, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		switches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "method_switches_total",
			Help:      "HTTP method switches triggered by 405 responses.",
		}),
		history: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_turns",
			Help:      "Turns currently held in the transcript.",
		}),
	}

	reg.MustRegister(
		m.dispatches, m.attempts, m.dropped, m.duration, m.switches, m.history,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// DispatchCompleted implements dispatch.Metrics.
func (m *Metrics) DispatchCompleted(outcome dispatch.Outcome, _ int, elapsed time.Duration) {
	m.dispatches.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// DispatchDropped implements dispatch.Metrics.
func (m *Metrics) DispatchDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// AttemptCompleted implements dispatch.Metrics.
func (m *Metrics) AttemptCompleted(method dispatch.Method, result string) {
	m.attempts.WithLabelValues(string(method), result).Inc()
}

// MethodSwitched implements dispatch.Metrics.
func (m *Metrics) MethodSwitched() {
	m.switches.Inc()
}

// HistorySize implements dispatch.Metrics.
func (m *Metrics) HistorySize(turns int) {
	m.history.Set(float64(turns))
}
