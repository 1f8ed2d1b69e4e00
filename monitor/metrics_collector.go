package monitor

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
)

const maxSamples = 100

// SimpleMetricsCollector is an in-memory messaging.MetricsCollector
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	// Request outcomes by action
	outcomes map[string]map[messaging.Outcome]int64

	// Requests by sending context
	contexts map[string]int64

	// Undefined replies reinterpreted, by action and compensation
	compensations map[string]map[string]int64

	// Request durations by action
	durations map[string]*TimeStats
}

var _ messaging.MetricsCollector = (*SimpleMetricsCollector)(nil)

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64 // last maxSamples, for percentiles
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		outcomes:      make(map[string]map[messaging.Outcome]int64),
		contexts:      make(map[string]int64),
		compensations: make(map[string]map[string]int64),
		durations:     make(map[string]*TimeStats),
	}
}

// RecordRequest implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) RecordRequest(contextName, action string, outcome messaging.Outcome, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outcomes[action] == nil {
		c.outcomes[action] = make(map[messaging.Outcome]int64)
	}
	c.outcomes[action][outcome]++
	c.contexts[contextName]++

	durationMs := duration.Milliseconds()

	stats, exists := c.durations[action]
	if !exists {
		stats = &TimeStats{
			MinMs:   durationMs,
			MaxMs:   durationMs,
			samples: make([]int64, 0, maxSamples),
		}
		c.durations[action] = stats
	}

	stats.Count++
	stats.TotalMs += durationMs
	stats.MinMs = min(stats.MinMs, durationMs)
	stats.MaxMs = max(stats.MaxMs, durationMs)

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, durationMs)
}

// RecordCompensation implements messaging.MetricsCollector
func (c *SimpleMetricsCollector) RecordCompensation(action string, kind contracts.Compensation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.compensations[action] == nil {
		c.compensations[action] = make(map[string]int64)
	}
	c.compensations[action][kind.String()]++
}

// GetMetricsSummary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Outcomes:      make(map[string]map[messaging.Outcome]int64, len(c.outcomes)),
		Contexts:      make(map[string]int64, len(c.contexts)),
		Compensations: make(map[string]map[string]int64, len(c.compensations)),
		Durations:     make(map[string]DurationStats, len(c.durations)),
	}

	for action, counts := range c.outcomes {
		summary.Outcomes[action] = make(map[messaging.Outcome]int64, len(counts))
		for outcome, n := range counts {
			summary.Outcomes[action][outcome] = n
			summary.TotalRequests += n
		}
	}

	for name, n := range c.contexts {
		summary.Contexts[name] = n
	}

	for action, counts := range c.compensations {
		summary.Compensations[action] = make(map[string]int64, len(counts))
		for kind, n := range counts {
			summary.Compensations[action][kind] = n
		}
	}

	for action, stats := range c.durations {
		d := DurationStats{
			Count: stats.Count,
			MinMs: stats.MinMs,
			MaxMs: stats.MaxMs,
		}
		if stats.Count > 0 {
			d.AvgMs = stats.TotalMs / stats.Count
		}
		if len(stats.samples) > 0 {
			sorted := slices.Clone(stats.samples)
			slices.Sort(sorted)
			d.P50Ms = percentile(sorted, 0.50)
			d.P95Ms = percentile(sorted, 0.95)
			d.P99Ms = percentile(sorted, 0.99)
		}
		summary.Durations[action] = d
	}

	return summary
}

func percentile(sorted []int64, p float64) int64 {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	TotalRequests int64                                  `json:"total_requests"`
	Outcomes      map[string]map[messaging.Outcome]int64 `json:"outcomes"`
	Contexts      map[string]int64                       `json:"contexts"`
	Compensations map[string]map[string]int64            `json:"compensations"`
	Durations     map[string]DurationStats               `json:"durations"`
}

// DurationStats represents request duration statistics for an action
type DurationStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes = make(map[string]map[messaging.Outcome]int64)
	c.contexts = make(map[string]int64)
	c.compensations = make(map[string]map[string]int64)
	c.durations = make(map[string]*TimeStats)
}

// MultiCollector fans every record out to several collectors
type MultiCollector []messaging.MetricsCollector

// RecordRequest implements messaging.MetricsCollector
func (m MultiCollector) RecordRequest(contextName, action string, outcome messaging.Outcome, duration time.Duration) {
	for _, c := range m {
		c.RecordRequest(contextName, action, outcome, duration)
	}
}

// RecordCompensation implements messaging.MetricsCollector
func (m MultiCollector) RecordCompensation(action string, kind contracts.Compensation) {
	for _, c := range m {
		c.RecordCompensation(action, kind)
	}
}

// DispatchMiddleware records every handled request on the receiving side.
// A handler error counts as rejected, anything else as resolved.
func DispatchMiddleware(metrics messaging.MetricsCollector) messaging.MiddlewareFunc {
	return func(ctx context.Context, envelope *contracts.Envelope, next messaging.Handler) (any, error) {
		start := time.Now()
		payload, err := next.Handle(ctx, envelope)

		outcome := messaging.OutcomeResolved
		if err != nil {
			outcome = messaging.OutcomeRejected
		}
		metrics.RecordRequest(envelope.Context, envelope.Action, outcome, time.Since(start))
		return payload, err
	}
}
