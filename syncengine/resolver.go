package syncengine

import (
	"context"
	"log/slog"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/logging"
)

// Resolver applies operations and resolution decisions against the version
// store. Automatic paths (clean applies, client_wins/server_wins policies)
// run during a drain; Resolve handles the explicit resolution call for
// persisted conflicts.
type Resolver struct {
	versions  VersionStore
	queue     OperationQueue
	conflicts ConflictStore
	retry     RetryPolicy
	clock     Clock
	logger    *logging.Logger
}

// NewResolver constructs a Resolver with injected dependencies.
func NewResolver(versions VersionStore, queue OperationQueue, conflicts ConflictStore, retry RetryPolicy, clock Clock, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.WithComponent("resolver")
	}
	return &Resolver{
		versions:  versions,
		queue:     queue,
		conflicts: conflicts,
		retry:     retry,
		clock:     clock,
		logger:    logger,
	}
}

// commitData maps an operation to the payload and tombstone flag to commit.
func commitData(op *Operation) (Payload, bool) {
	if op.Type == OpDelete {
		return nil, true
	}
	return op.Payload, false
}

// AutoApply commits a clean-apply operation using the operation's declared
// client version as the optimistic expected version. A KindVersionConflict
// error means another operation landed between detection and commit; the
// caller re-classifies from scratch rather than failing outright.
func (r *Resolver) AutoApply(ctx context.Context, op *Operation) (int64, error) {
	data, deleted := commitData(op)
	return r.versions.Commit(ctx, op.ResourceType, op.ResourceID, op.ClientVersion, data, deleted, op.ID)
}

// ApplyClientWins commits the client's payload over the current server state.
// Used when the operation's requested strategy permits automatic resolution.
func (r *Resolver) ApplyClientWins(ctx context.Context, op *Operation, current *ResourceVersion) (int64, error) {
	var expected int64
	if current != nil {
		expected = current.Version
	}
	data, deleted := commitData(op)
	return r.versions.Commit(ctx, op.ResourceType, op.ResourceID, expected, data, deleted, op.ID)
}

// Resolve applies an explicit resolution decision to a persisted conflict,
// commits the winning state, and transitions the triggering operation to its
// terminal status.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, strategy Strategy, merged Payload) (ResolutionResult, error) {
	if !strategy.IsValid() {
		return ResolutionResult{}, syncErrors.E(syncErrors.OpResolve, syncErrors.Component("resolver"),
			syncErrors.KindValidation, "unknown resolution strategy: "+string(strategy))
	}

	c, err := r.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return ResolutionResult{}, err
	}
	if c.Resolved {
		return ResolutionResult{}, syncErrors.E(syncErrors.OpResolve, syncErrors.Component("resolver"),
			syncErrors.KindAlreadyResolved, "conflict already resolved").WithMeta("conflict_id", conflictID)
	}

	op, err := r.queue.GetOperation(ctx, c.OperationID)
	if err != nil {
		return ResolutionResult{}, err
	}

	if (strategy == StrategyMerge || strategy == StrategyManual) && merged == nil {
		return ResolutionResult{}, syncErrors.E(syncErrors.OpResolve, syncErrors.Component("resolver"),
			syncErrors.KindMissingMergeData, "strategy requires merged data").WithMeta("conflict_id", conflictID)
	}

	result := ResolutionResult{
		ConflictID:  c.ID,
		OperationID: op.ID,
		Strategy:    strategy,
	}

	switch strategy {
	case StrategyServerWins:
		// Client payload is discarded; server state stands as-is.

	case StrategyClientWins:
		newVersion, err := r.commitResolution(ctx, c, op.Type == OpDelete, c.ClientData, op.ID)
		if err != nil {
			return ResolutionResult{}, err
		}
		result.NewVersion = newVersion
		result.DataChanged = true

	case StrategyMerge, StrategyManual:
		newVersion, err := r.commitResolution(ctx, c, false, merged, op.ID)
		if err != nil {
			return ResolutionResult{}, err
		}
		result.NewVersion = newVersion
		result.DataChanged = true
	}

	now := r.clock.Now()
	if err := r.conflicts.MarkResolved(ctx, c.ID, strategy, merged, now); err != nil {
		return ResolutionResult{}, err
	}
	if err := r.queue.MarkStatus(ctx, op.ID, StatusApplied, &now); err != nil {
		return ResolutionResult{}, err
	}

	r.logger.InfoContext(ctx, "conflict resolved",
		slog.String("conflict_id", c.ID),
		slog.String("operation_id", op.ID),
		slog.String("strategy", string(strategy)),
		slog.Int64("new_version", result.NewVersion),
	)
	return result, nil
}

// commitResolution commits resolved state at whatever version the server
// currently holds, re-reading under the retry policy if a concurrent commit
// races it.
func (r *Resolver) commitResolution(ctx context.Context, c *Conflict, deleted bool, data Payload, operationID string) (int64, error) {
	if deleted {
		data = nil
	}

	var newVersion int64
	err := withRetry(ctx, r.retry, func() error {
		var expected int64
		current, err := r.versions.Get(ctx, c.ResourceType, c.ResourceID)
		if err != nil && !syncErrors.IsKind(err, syncErrors.KindNotFound) {
			return err
		}
		if current != nil {
			expected = current.Version
		}

		newVersion, err = r.versions.Commit(ctx, c.ResourceType, c.ResourceID, expected, data, deleted, operationID)
		return err
	})
	if err != nil {
		return 0, syncErrors.Wrap(err, syncErrors.OpResolve, "resolver")
	}
	return newVersion, nil
}
