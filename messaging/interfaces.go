package messaging

import "time"

// Get cycle outcomes reported to MetricsCollector
const (
	GetOutcomeMessages  = "messages"
	GetOutcomeEmpty     = "empty"
	GetOutcomeFatal     = "fatal"
	GetOutcomeCancelled = "cancelled"
)

// MetricsCollector collects messaging metrics
type MetricsCollector interface {
	// RecordPut records one put attempt
	RecordPut(queue string, duration time.Duration, success bool)

	// RecordGet records one receive cycle
	RecordGet(queue string, outcome string, messages int, duration time.Duration)

	// RecordSessionState records a session lifecycle transition
	RecordSessionState(queue string, state SessionState)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordPut does nothing
func (n *NoOpMetricsCollector) RecordPut(queue string, duration time.Duration, success bool) {}

// RecordGet does nothing
func (n *NoOpMetricsCollector) RecordGet(queue string, outcome string, messages int, duration time.Duration) {
}

// RecordSessionState does nothing
func (n *NoOpMetricsCollector) RecordSessionState(queue string, state SessionState) {}
