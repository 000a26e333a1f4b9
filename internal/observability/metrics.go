package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// requestDurationBuckets covers the latency range of a synchronous
// round trip to the ticketing service.
var requestDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds the Prometheus instruments for the client.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	BreakerState    prometheus.Gauge
}

// InitMetrics creates and registers the client metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_requests_total",
			Help: "Total number of requests to the ticketing service.",
		}, []string{"operation", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "changeflow_request_duration_seconds",
			Help:    "Request duration in seconds.",
			Buckets: requestDurationBuckets,
		}, []string{"operation"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_retries_total",
			Help: "Total number of retried requests.",
		}, []string{"operation"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "changeflow_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RetriesTotal,
			m.BreakerState,
		)
	}
	return m
}

// ObserveRequest records one completed request. Safe on a nil receiver
// so callers can run without metrics.
func (m *Metrics) ObserveRequest(operation, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, code).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRetry records one retried request. Safe on a nil receiver.
func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveBreakerState records the breaker state. Safe on a nil receiver.
func (m *Metrics) ObserveBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BreakerState.Set(state)
}
