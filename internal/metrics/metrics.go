// Package metrics exposes engine counters to Prometheus.
package metrics

// Assignment outcomes.
const (
	OutcomeAssigned = "assigned"
	OutcomeFailed   = "failed"
	OutcomeBlocked  = "blocked"
	OutcomeSkipped  = "skipped"
)

// Job results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Collector receives engine measurements.
type Collector interface {
	// RecordAssignment counts one shift processed by AssignBatch.
	RecordAssignment(outcome string)
	// RecordBatchDuration observes one AssignBatch call.
	RecordBatchDuration(seconds float64)
	RecordBalanceMoves(n int)
	RecordTransferTransition(from, to string)
	// RecordJobRun observes one scheduler trigger of job.
	RecordJobRun(job, result string, seconds float64)
	RecordNotification(sink, result string)
}
