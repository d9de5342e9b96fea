package syncengine

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordOperation records an operation reaching a status.
	RecordOperation(userID string, status Status)

	// RecordConflict records a detected conflict.
	RecordConflict(resourceType string, conflictType ConflictType)

	// RecordCommitRace records a commit-level version race that triggered
	// re-classification.
	RecordCommitRace(resourceType string)

	// RecordDrain records the outcome and duration of one drain.
	RecordDrain(userID string, result DrainResult, d time.Duration)

	// RecordPurge records how many operations a retention pass removed.
	RecordPurge(count int)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordOperation(userID string, status Status)                   {}
func (*NoOpMetricsCollector) RecordConflict(resourceType string, conflictType ConflictType)  {}
func (*NoOpMetricsCollector) RecordCommitRace(resourceType string)                           {}
func (*NoOpMetricsCollector) RecordDrain(userID string, result DrainResult, d time.Duration) {}
func (*NoOpMetricsCollector) RecordPurge(count int)                                          {}
