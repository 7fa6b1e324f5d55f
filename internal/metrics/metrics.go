package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records account operation outcomes on its own registry, so tests
// and multiple servers in one process never collide on registration.
type Metrics struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_operations_total",
				Help: "Total number of account operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accountd_operation_duration_seconds",
				Help:    "Account operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accountd_notifications_total",
				Help: "Total number of account emails by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation counts one operation and records how long it took.
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveNotification(kind, outcome string) {
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
