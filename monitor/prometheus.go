package monitor

import (
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports messaging metrics to Prometheus
type PrometheusCollector struct {
	requests      *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	compensations *prometheus.CounterVec
}

var (
	_ messaging.MetricsCollector = (*PrometheusCollector)(nil)
	_ prometheus.Collector       = (*PrometheusCollector)(nil)
)

// NewPrometheusCollector creates the collector and registers it with reg.
// A nil reg leaves registration to the caller.
func NewPrometheusCollector(namespace string, reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "requests_total",
			Help:      "Requests sent, by sending context, action and outcome.",
		}, []string{"context", "action", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "request_duration_seconds",
			Help:      "Time from send to terminal state, by action and outcome.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 3, 5, 10, 20, 30},
		}, []string{"action", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "compensations_total",
			Help:      "Undefined replies reinterpreted, by action and compensation kind.",
		}, []string{"action", "kind"}),
	}

	if reg != nil {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordRequest implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordRequest(contextName, action string, outcome messaging.Outcome, duration time.Duration) {
	c.requests.WithLabelValues(contextName, action, string(outcome)).Inc()
	c.durations.WithLabelValues(action, string(outcome)).Observe(duration.Seconds())
}

// RecordCompensation implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordCompensation(action string, kind contracts.Compensation) {
	c.compensations.WithLabelValues(action, kind.String()).Inc()
}

// Describe implements prometheus.Collector
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.durations.Describe(ch)
	c.compensations.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.durations.Collect(ch)
	c.compensations.Collect(ch)
}
