package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/logging"
)

// QueueRequest is a client's submission of one offline mutation.
type QueueRequest struct {
	// OperationID is the client-supplied idempotency key. If empty the
	// server generates one.
	OperationID   string        `json:"operation_id,omitempty"`
	UserID        string        `json:"user_id"`
	ResourceType  string        `json:"resource_type"`
	ResourceID    string        `json:"resource_id"`
	Type          OperationType `json:"operation_type"`
	Payload       Payload       `json:"payload,omitempty"`
	ClientVersion int64         `json:"client_version"`
	Resolution    Strategy      `json:"conflict_resolution,omitempty"`
}

// BatchResult reports the per-item outcome of a batch enqueue.
type BatchResult struct {
	OperationID string `json:"operation_id,omitempty"`
	Err         error  `json:"-"`
}

// Service is the engine's boundary facade. It holds explicitly injected
// dependencies (stores, clock, id generator) so callers own all shared state
// and tests can substitute doubles.
type Service struct {
	versions  VersionStore
	queue     OperationQueue
	conflicts ConflictStore
	resolver  *Resolver
	processor *Processor
	retention *RetentionManager
	clock     Clock
	ids       IDGenerator
	logger    *logging.Logger

	autoDrainInterval time.Duration

	mu       sync.Mutex
	draining map[string]struct{}
	autoStop chan struct{}
	closed   bool
}

// New constructs a Service over the provided stores.
func New(versions VersionStore, queue OperationQueue, conflicts ConflictStore, opts ...Option) *Service {
	cfg := &serviceOptions{
		clock:     SystemClock(),
		ids:       UUIDGenerator(),
		retry:     DefaultRetryPolicy(),
		batchSize: 100,
		metrics:   &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("syncengine")
	}

	resolver := NewResolver(versions, queue, conflicts, cfg.retry, cfg.clock, cfg.logger.WithComponent("resolver"))
	processor := NewProcessor(ProcessorConfig{
		Versions:  versions,
		Queue:     queue,
		Conflicts: conflicts,
		Resolver:  resolver,
		Retry:     cfg.retry,
		Clock:     cfg.clock,
		IDs:       cfg.ids,
		BatchSize: cfg.batchSize,
		Metrics:   cfg.metrics,
		Logger:    cfg.logger.WithComponent("processor"),
	})
	retention := NewRetentionManager(queue, conflicts, cfg.clock, cfg.metrics, cfg.logger.WithComponent("retention"))

	return &Service{
		versions:          versions,
		queue:             queue,
		conflicts:         conflicts,
		resolver:          resolver,
		processor:         processor,
		retention:         retention,
		clock:             cfg.clock,
		ids:               cfg.ids,
		logger:            cfg.logger,
		autoDrainInterval: cfg.autoDrainInterval,
		draining:          make(map[string]struct{}),
	}
}

func (s *Service) validate(req *QueueRequest) error {
	switch {
	case req.UserID == "":
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation, "user_id is required")
	case req.ResourceType == "":
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation, "resource_type is required")
	case req.ResourceID == "":
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation, "resource_id is required")
	case !req.Type.IsValid():
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation,
			fmt.Sprintf("unknown operation_type %q", req.Type))
	case req.ClientVersion < 0:
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation, "client_version must not be negative")
	case req.Type != OpDelete && req.Payload == nil:
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation, "payload is required for create/update")
	}
	if req.Resolution != "" && !req.Resolution.IsValid() {
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.KindValidation,
			fmt.Sprintf("unknown conflict_resolution %q", req.Resolution))
	}
	return nil
}

// QueueOperation persists a single operation as queued and returns its ID.
// Re-submitting an already accepted operation ID fails with a KindDuplicate
// error and has no effect.
func (s *Service) QueueOperation(ctx context.Context, req QueueRequest) (string, error) {
	if err := s.validate(&req); err != nil {
		return "", err
	}

	op := &Operation{
		ID:            req.OperationID,
		UserID:        req.UserID,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		Type:          req.Type,
		Payload:       req.Payload.Clone(),
		ClientVersion: req.ClientVersion,
		Resolution:    req.Resolution,
		Status:        StatusQueued,
		CreatedAt:     s.clock.Now(),
	}
	if op.ID == "" {
		op.ID = s.ids.NewID()
	}
	if op.Resolution == "" {
		// Unstated preference defers the decision to a human.
		op.Resolution = StrategyManual
	}
	if op.Type == OpDelete {
		op.Payload = nil
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		return "", err
	}

	s.logger.DebugContext(ctx, "operation queued",
		slog.String("operation_id", op.ID),
		slog.String("user_id", op.UserID),
		slog.String("resource", op.Key().String()),
	)
	return op.ID, nil
}

// QueueBatch enqueues an ordered list of operations, reporting per-item
// results. A failed item does not stop the remainder of the batch.
func (s *Service) QueueBatch(ctx context.Context, reqs []QueueRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		id, err := s.QueueOperation(ctx, req)
		results = append(results, BatchResult{OperationID: id, Err: err})
	}
	return results
}

// ProcessUserQueue drains the user's queued operations. A drain already in
// flight for the same user causes this call to coalesce and return an empty
// result rather than double-process.
func (s *Service) ProcessUserQueue(ctx context.Context, userID string) (DrainResult, error) {
	if userID == "" {
		return DrainResult{}, syncErrors.E(syncErrors.OpDrain, syncErrors.KindValidation, "user_id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return DrainResult{}, syncErrors.E(syncErrors.OpDrain, "service is closed")
	}
	if _, busy := s.draining[userID]; busy {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "drain already in flight", slog.String("user_id", userID))
		return DrainResult{}, nil
	}
	s.draining[userID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.draining, userID)
		s.mu.Unlock()
	}()

	return s.processor.Drain(ctx, userID)
}

// GetSyncStatus aggregates a user's queue state.
func (s *Service) GetSyncStatus(ctx context.Context, userID string) (SyncStatus, error) {
	counts, err := s.queue.StatusCounts(ctx, userID)
	if err != nil {
		return SyncStatus{}, syncErrors.Wrap(err, syncErrors.OpStatus, "service")
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	unresolved, err := s.conflicts.CountUnresolved(ctx, userID)
	if err != nil {
		return SyncStatus{}, syncErrors.Wrap(err, syncErrors.OpStatus, "service")
	}

	lastProcessed, err := s.queue.LastProcessedAt(ctx, userID)
	if err != nil {
		return SyncStatus{}, syncErrors.Wrap(err, syncErrors.OpStatus, "service")
	}

	return SyncStatus{
		UserID:              userID,
		Total:               total,
		ByStatus:            counts,
		UnresolvedConflicts: unresolved,
		LastProcessedAt:     lastProcessed,
	}, nil
}

// ListConflicts returns the user's unresolved conflicts, oldest first.
func (s *Service) ListConflicts(ctx context.Context, userID string) ([]*Conflict, error) {
	return s.conflicts.ListUnresolved(ctx, userID)
}

// ResolveConflict applies an explicit resolution decision to a persisted
// conflict.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string, strategy Strategy, merged Payload) (ResolutionResult, error) {
	return s.resolver.Resolve(ctx, conflictID, strategy, merged)
}

// PurgeOld removes terminal-state operations older than the retention window
// and returns how many were purged.
func (s *Service) PurgeOld(ctx context.Context, retentionDays int) (int, error) {
	return s.retention.Purge(ctx, retentionDays)
}

// StartAutoDrain begins draining all users with pending work at the
// configured interval. It is a no-op error if no interval was configured.
func (s *Service) StartAutoDrain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return syncErrors.E(syncErrors.OpDrain, "service is closed")
	}
	if s.autoDrainInterval <= 0 {
		return syncErrors.E(syncErrors.OpDrain, syncErrors.KindValidation, "auto drain interval is not configured")
	}
	if s.autoStop != nil {
		return syncErrors.E(syncErrors.OpDrain, syncErrors.KindValidation, "auto drain is already running")
	}

	stop := make(chan struct{})
	s.autoStop = stop

	go func() {
		ticker := time.NewTicker(s.autoDrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.drainAll(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) drainAll(ctx context.Context) {
	users, err := s.queue.UsersWithPending(ctx)
	if err != nil {
		s.logger.LogError(ctx, err, "auto drain could not list pending users")
		return
	}
	for _, userID := range users {
		if _, err := s.ProcessUserQueue(ctx, userID); err != nil {
			s.logger.LogError(ctx, err, "auto drain failed",
				slog.String("user_id", userID))
		}
	}
}

// StopAutoDrain stops the background drain ticker.
func (s *Service) StopAutoDrain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autoStop == nil {
		return syncErrors.E(syncErrors.OpDrain, syncErrors.KindValidation, "auto drain is not running")
	}
	close(s.autoStop)
	s.autoStop = nil
	return nil
}

// Close shuts down the service and its stores.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.autoStop != nil {
		close(s.autoStop)
		s.autoStop = nil
	}

	var errs []error
	for _, closer := range []func() error{s.versions.Close, s.queue.Close, s.conflicts.Close} {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return syncErrors.E(syncErrors.OpClose, fmt.Sprintf("close errors: %v", errs))
	}
	return nil
}
