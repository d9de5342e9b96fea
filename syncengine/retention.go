package syncengine

import (
	"context"
	"log/slog"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/logging"
)

// RetentionManager purges terminal-state operations older than a retention
// window. Operations awaiting resolution, and unresolved conflicts, are never
// purged regardless of age.
type RetentionManager struct {
	queue     OperationQueue
	conflicts ConflictStore
	clock     Clock
	metrics   MetricsCollector
	logger    *logging.Logger
}

// NewRetentionManager constructs a RetentionManager.
func NewRetentionManager(queue OperationQueue, conflicts ConflictStore, clock Clock, metrics MetricsCollector, logger *logging.Logger) *RetentionManager {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	if logger == nil {
		logger = logging.WithComponent("retention")
	}
	return &RetentionManager{
		queue:     queue,
		conflicts: conflicts,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// Purge removes applied/failed operations processed before the retention
// window, along with resolved conflicts of the same age. Returns the number
// of operations purged.
func (rm *RetentionManager) Purge(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, syncErrors.E(syncErrors.OpPurge, syncErrors.Component("retention"),
			syncErrors.KindValidation, "retention window must not be negative")
	}

	cutoff := rm.clock.Now().AddDate(0, 0, -olderThanDays)

	purged, err := rm.queue.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, syncErrors.Wrap(err, syncErrors.OpPurge, "retention")
	}

	conflictsPurged, err := rm.conflicts.PurgeResolvedBefore(ctx, cutoff)
	if err != nil {
		return purged, syncErrors.Wrap(err, syncErrors.OpPurge, "retention")
	}

	rm.metrics.RecordPurge(purged)
	rm.logger.InfoContext(ctx, "retention purge completed",
		slog.Time("cutoff", cutoff),
		slog.Int("operations_purged", purged),
		slog.Int("conflicts_purged", conflictsPurged),
	)
	return purged, nil
}
