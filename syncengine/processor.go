package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/logging"
)

// Processor drains a user's operation queue, orchestrating the detector and
// resolver per operation. Operations on distinct resource keys run
// concurrently; operations on the same key run strictly in FIFO order. A
// per-key mutex serializes detection+commit sequences across concurrent
// drains, with the store's optimistic version check as the backstop.
type Processor struct {
	versions  VersionStore
	queue     OperationQueue
	conflicts ConflictStore
	detector  *Detector
	resolver  *Resolver
	retry     RetryPolicy
	clock     Clock
	ids       IDGenerator
	batchSize int
	metrics   MetricsCollector
	logger    *logging.Logger

	keyLocks *keyedMutex
}

// ProcessorConfig carries the dependencies and tuning for a Processor.
type ProcessorConfig struct {
	Versions  VersionStore
	Queue     OperationQueue
	Conflicts ConflictStore
	Resolver  *Resolver
	Retry     RetryPolicy
	Clock     Clock
	IDs       IDGenerator
	BatchSize int
	Metrics   MetricsCollector
	Logger    *logging.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoOpMetricsCollector{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("processor")
	}
	return &Processor{
		versions:  cfg.Versions,
		queue:     cfg.Queue,
		conflicts: cfg.Conflicts,
		detector:  NewDetector(),
		resolver:  cfg.Resolver,
		retry:     cfg.Retry,
		clock:     cfg.Clock,
		ids:       cfg.IDs,
		batchSize: cfg.BatchSize,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		keyLocks:  newKeyedMutex(),
	}
}

// Drain processes one user's pending batch and reports per-status counts.
// Operations targeting a key with an existing unresolved conflict are left
// queued behind it until the conflict resolves.
func (p *Processor) Drain(ctx context.Context, userID string) (DrainResult, error) {
	start := p.clock.Now()
	var result DrainResult

	batch, err := p.queue.PendingBatch(ctx, userID, p.batchSize)
	if err != nil {
		return result, syncErrors.Wrap(err, syncErrors.OpDrain, "processor")
	}
	if len(batch) == 0 {
		return result, nil
	}

	// Group by resource key, preserving FIFO order within each key.
	groups := make(map[ResourceKey][]*Operation)
	order := make([]ResourceKey, 0)
	for _, op := range batch {
		key := op.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], op)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, key := range order {
		ops := groups[key]
		wg.Add(1)
		go func(key ResourceKey, ops []*Operation) {
			defer wg.Done()
			sub := p.drainKey(ctx, key, ops)
			mu.Lock()
			result.Processed += sub.Processed
			result.Applied += sub.Applied
			result.Conflicted += sub.Conflicted
			result.Failed += sub.Failed
			mu.Unlock()
		}(key, ops)
	}
	wg.Wait()

	p.metrics.RecordDrain(userID, result, p.clock.Now().Sub(start))
	p.logger.InfoContext(ctx, "drain completed",
		slog.String("user_id", userID),
		slog.Int("processed", result.Processed),
		slog.Int("applied", result.Applied),
		slog.Int("conflicted", result.Conflicted),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// drainKey processes one key's operations in submission order under the
// key's lock.
func (p *Processor) drainKey(ctx context.Context, key ResourceKey, ops []*Operation) DrainResult {
	p.keyLocks.Lock(key.String())
	defer p.keyLocks.Unlock(key.String())

	var result DrainResult
	for _, op := range ops {
		select {
		case <-ctx.Done():
			// Aborted mid-batch: untouched operations stay queued and are
			// safe to re-drain.
			return result
		default:
		}

		status, err := p.processOne(ctx, op)
		if err != nil {
			if syncErrors.IsKind(err, syncErrors.KindUnavailable) || ctx.Err() != nil {
				// Infrastructure failure: leave the operation queued for the
				// next drain rather than burning its retry budget.
				_ = p.queue.MarkStatus(ctx, op.ID, StatusQueued, nil)
				p.logger.LogError(ctx, err, "drain interrupted by store failure",
					slog.String("operation_id", op.ID))
				return result
			}
			p.logger.LogError(ctx, err, "operation processing failed",
				slog.String("operation_id", op.ID))
		}

		switch status {
		case StatusApplied:
			result.Applied++
		case StatusNeedsResolution:
			result.Conflicted++
			// Later operations on this key queue up behind the conflict.
			result.Processed++
			return result
		case StatusFailed:
			result.Failed++
		case StatusQueued:
			// Skipped behind an existing unresolved conflict; not processed.
			continue
		}
		result.Processed++
	}
	return result
}

// processOne runs the classify/apply loop for a single operation and returns
// the status it transitioned to. A commit-level version race triggers
// re-classification from scratch, bounded by the retry policy.
func (p *Processor) processOne(ctx context.Context, op *Operation) (Status, error) {
	// Conflict singularity: one unresolved conflict per resource key. A new
	// operation on a conflicted key waits behind the existing conflict.
	existing, err := p.conflicts.UnresolvedForResource(ctx, op.ResourceType, op.ResourceID)
	if err != nil {
		return StatusQueued, err
	}
	if existing != nil {
		return StatusQueued, nil
	}

	if err := p.queue.MarkStatus(ctx, op.ID, StatusProcessing, nil); err != nil {
		return StatusQueued, err
	}

	eb := &exponentialBackoff{
		initialDelay: p.retry.InitialDelay,
		maxDelay:     p.retry.MaxDelay,
		multiplier:   p.retry.Multiplier,
	}

	for attempt := 0; ; attempt++ {
		status, retryable, err := p.attempt(ctx, op)
		if err == nil {
			return p.finish(ctx, op, status, nil)
		}
		if !retryable {
			if syncErrors.IsKind(err, syncErrors.KindUnavailable) {
				// Infrastructure failure, not an operation failure: leave it
				// queued so the next drain retries it.
				_ = p.queue.MarkStatus(ctx, op.ID, StatusQueued, nil)
				return StatusQueued, err
			}
			return p.finish(ctx, op, StatusFailed, err)
		}

		if attempt+1 >= p.retry.MaxAttempts {
			return p.finish(ctx, op, StatusFailed, err)
		}
		_ = p.queue.IncrementRetry(ctx, op.ID)
		p.metrics.RecordCommitRace(op.ResourceType)

		timer := time.NewTimer(eb.nextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = p.queue.MarkStatus(ctx, op.ID, StatusQueued, nil)
			return StatusQueued, ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt performs one classify+act pass. retryable reports whether a
// failure was a commit-level version race worth re-classifying.
func (p *Processor) attempt(ctx context.Context, op *Operation) (status Status, retryable bool, err error) {
	current, err := p.versions.Get(ctx, op.ResourceType, op.ResourceID)
	if err != nil && !syncErrors.IsKind(err, syncErrors.KindNotFound) {
		return StatusFailed, false, err
	}

	outcome := p.detector.Classify(op, current)

	switch outcome.Decision {
	case DecisionNoop:
		return StatusApplied, false, nil

	case DecisionApply:
		_, err := p.resolver.AutoApply(ctx, op)
		if err != nil {
			if syncErrors.IsKind(err, syncErrors.KindVersionConflict) {
				return StatusProcessing, true, err
			}
			return StatusFailed, false, err
		}
		return StatusApplied, false, nil

	default: // DecisionConflict
		strategy := op.Resolution
		if outcome.ForceManual {
			strategy = StrategyManual
		}

		switch strategy {
		case StrategyClientWins:
			_, err := p.resolver.ApplyClientWins(ctx, op, current)
			if err != nil {
				if syncErrors.IsKind(err, syncErrors.KindVersionConflict) {
					return StatusProcessing, true, err
				}
				return StatusFailed, false, err
			}
			return StatusApplied, false, nil

		case StrategyServerWins:
			// Server state stands; the client payload is discarded.
			return StatusApplied, false, nil

		default: // merge, manual
			if err := p.createConflict(ctx, op, current, outcome.ConflictType); err != nil {
				return StatusFailed, false, err
			}
			return StatusNeedsResolution, false, nil
		}
	}
}

func (p *Processor) createConflict(ctx context.Context, op *Operation, current *ResourceVersion, ctype ConflictType) error {
	c := &Conflict{
		ID:           p.ids.NewID(),
		OperationID:  op.ID,
		UserID:       op.UserID,
		ResourceType: op.ResourceType,
		ResourceID:   op.ResourceID,
		Type:         ctype,
		ClientData:   op.Payload.Clone(),
		CreatedAt:    p.clock.Now(),
	}
	if current != nil {
		c.ServerData = current.Data.Clone()
	}

	if err := p.conflicts.Create(ctx, c); err != nil {
		return err
	}
	p.metrics.RecordConflict(op.ResourceType, ctype)
	p.logger.InfoContext(ctx, "conflict detected",
		slog.String("conflict_id", c.ID),
		slog.String("operation_id", op.ID),
		slog.String("resource", op.Key().String()),
		slog.String("conflict_type", string(ctype)),
	)
	return nil
}

// finish records the terminal transition for an operation.
func (p *Processor) finish(ctx context.Context, op *Operation, status Status, cause error) (Status, error) {
	now := p.clock.Now()
	if err := p.queue.MarkStatus(ctx, op.ID, status, &now); err != nil {
		return status, err
	}
	p.metrics.RecordOperation(op.UserID, status)
	return status, cause
}
