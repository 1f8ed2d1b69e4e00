package messaging

import (
	"time"

	"github.com/glimte/xmsg/contracts"
)

// Outcome is how a request ended, from the caller's point of view
type Outcome string

const (
	OutcomeResolved    Outcome = "resolved"
	OutcomeCompensated Outcome = "compensated"
	OutcomeGraceful    Outcome = "graceful"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRejected    Outcome = "rejected"
)

// MetricsCollector collects messaging metrics
type MetricsCollector interface {
	// RecordRequest records the end of a request
	RecordRequest(contextName, action string, outcome Outcome, duration time.Duration)

	// RecordCompensation records an undefined reply being reinterpreted
	RecordCompensation(action string, kind contracts.Compensation)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordRequest does nothing
func (n *NoOpMetricsCollector) RecordRequest(contextName, action string, outcome Outcome, duration time.Duration) {
}

// RecordCompensation does nothing
func (n *NoOpMetricsCollector) RecordCompensation(action string, kind contracts.Compensation) {}
