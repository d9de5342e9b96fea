// Package memory provides an in-memory implementation of the sync engine's
// storage interfaces, intended for tests and examples.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

// Store implements VersionStore, OperationQueue, and ConflictStore over
// mutex-guarded maps. All returned records are copies; callers never share
// memory with the store.
type Store struct {
	mu         sync.RWMutex
	versions   map[resourceKey]*syncengine.ResourceVersion
	operations map[string]*syncengine.Operation
	conflicts  map[string]*syncengine.Conflict
	closed     bool
}

type resourceKey struct {
	resourceType string
	resourceID   string
}

var (
	_ syncengine.VersionStore   = (*Store)(nil)
	_ syncengine.OperationQueue = (*Store)(nil)
	_ syncengine.ConflictStore  = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		versions:   make(map[resourceKey]*syncengine.ResourceVersion),
		operations: make(map[string]*syncengine.Operation),
		conflicts:  make(map[string]*syncengine.Conflict),
	}
}

const component = "storage/memory"

func (s *Store) checkOpen(op syncErrors.Operation) error {
	if s.closed {
		return syncErrors.E(op, syncErrors.Component(component), syncErrors.KindUnavailable, "store is closed")
	}
	return nil
}

// Get implements syncengine.VersionStore.
func (s *Store) Get(ctx context.Context, resourceType, resourceID string) (*syncengine.ResourceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(syncErrors.OpCommit); err != nil {
		return nil, err
	}

	rv, ok := s.versions[resourceKey{resourceType, resourceID}]
	if !ok {
		return nil, syncErrors.E(syncErrors.OpCommit, syncErrors.Component(component),
			syncErrors.KindNotFound, "resource not found")
	}
	out := *rv
	out.Data = rv.Data.Clone()
	return &out, nil
}

// Commit implements syncengine.VersionStore.
func (s *Store) Commit(ctx context.Context, resourceType, resourceID string, expectedVersion int64, data syncengine.Payload, deleted bool, operationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(syncErrors.OpCommit); err != nil {
		return 0, err
	}

	key := resourceKey{resourceType, resourceID}
	current := s.versions[key]

	var currentVersion int64
	if current != nil {
		currentVersion = current.Version
		if current.LastModifiedBy == operationID {
			// Idempotent re-apply of the same operation.
			return current.Version, nil
		}
	}

	if currentVersion != expectedVersion {
		return 0, syncErrors.E(syncErrors.OpCommit, syncErrors.Component(component),
			syncErrors.KindVersionConflict, "stored version does not match expected version").
			WithMeta("expected", expectedVersion).
			WithMeta("actual", currentVersion)
	}

	s.versions[key] = &syncengine.ResourceVersion{
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Version:        currentVersion + 1,
		Data:           data.Clone(),
		Deleted:        deleted,
		LastModifiedBy: operationID,
		UpdatedAt:      time.Now().UTC(),
	}
	return currentVersion + 1, nil
}

// Enqueue implements syncengine.OperationQueue.
func (s *Store) Enqueue(ctx context.Context, op *syncengine.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(syncErrors.OpEnqueue); err != nil {
		return err
	}

	if _, exists := s.operations[op.ID]; exists {
		return syncErrors.E(syncErrors.OpEnqueue, syncErrors.Component(component),
			syncErrors.KindDuplicate, "operation id already accepted").WithMeta("operation_id", op.ID)
	}

	stored := *op
	stored.Payload = op.Payload.Clone()
	s.operations[op.ID] = &stored
	return nil
}

// Get implements syncengine.OperationQueue.
func (s *Store) getOperation(operationID string) (*syncengine.Operation, error) {
	op, ok := s.operations[operationID]
	if !ok {
		return nil, syncErrors.E(syncErrors.OpEnqueue, syncErrors.Component(component),
			syncErrors.KindNotFound, "operation not found").WithMeta("operation_id", operationID)
	}
	out := *op
	out.Payload = op.Payload.Clone()
	return &out, nil
}

func (s *Store) GetOperation(ctx context.Context, operationID string) (*syncengine.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOperation(operationID)
}

// UsersWithPending implements syncengine.OperationQueue.
func (s *Store) UsersWithPending(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, op := range s.operations {
		if op.Status == syncengine.StatusQueued || op.Status == syncengine.StatusProcessing {
			seen[op.UserID] = struct{}{}
		}
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// PendingBatch implements syncengine.OperationQueue.
func (s *Store) PendingBatch(ctx context.Context, userID string, limit int) ([]*syncengine.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(syncErrors.OpDrain); err != nil {
		return nil, err
	}

	var batch []*syncengine.Operation
	for _, op := range s.operations {
		if op.UserID != userID {
			continue
		}
		if op.Status != syncengine.StatusQueued && op.Status != syncengine.StatusProcessing {
			continue
		}
		out := *op
		out.Payload = op.Payload.Clone()
		batch = append(batch, &out)
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].ID < batch[j].ID
		}
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	if limit > 0 && len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

// MarkStatus implements syncengine.OperationQueue.
func (s *Store) MarkStatus(ctx context.Context, operationID string, status syncengine.Status, processedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[operationID]
	if !ok {
		return syncErrors.E(syncErrors.OpDrain, syncErrors.Component(component),
			syncErrors.KindNotFound, "operation not found").WithMeta("operation_id", operationID)
	}
	op.Status = status
	if processedAt != nil {
		t := *processedAt
		op.ProcessedAt = &t
	}
	return nil
}

// IncrementRetry implements syncengine.OperationQueue.
func (s *Store) IncrementRetry(ctx context.Context, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[operationID]
	if !ok {
		return syncErrors.E(syncErrors.OpDrain, syncErrors.Component(component),
			syncErrors.KindNotFound, "operation not found").WithMeta("operation_id", operationID)
	}
	op.RetryCount++
	return nil
}

// StatusCounts implements syncengine.OperationQueue.
func (s *Store) StatusCounts(ctx context.Context, userID string) (map[syncengine.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[syncengine.Status]int)
	for _, op := range s.operations {
		if op.UserID == userID {
			counts[op.Status]++
		}
	}
	return counts, nil
}

// LastProcessedAt implements syncengine.OperationQueue.
func (s *Store) LastProcessedAt(ctx context.Context, userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, op := range s.operations {
		if op.UserID != userID || op.ProcessedAt == nil {
			continue
		}
		if latest == nil || op.ProcessedAt.After(*latest) {
			t := *op.ProcessedAt
			latest = &t
		}
	}
	return latest, nil
}

// PurgeTerminal implements syncengine.OperationQueue.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, op := range s.operations {
		if !op.Status.IsTerminal() || op.ProcessedAt == nil {
			continue
		}
		if op.ProcessedAt.Before(cutoff) {
			delete(s.operations, id)
			purged++
		}
	}
	return purged, nil
}

// Create implements syncengine.ConflictStore.
func (s *Store) Create(ctx context.Context, c *syncengine.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conflicts {
		if !existing.Resolved &&
			existing.ResourceType == c.ResourceType &&
			existing.ResourceID == c.ResourceID {
			return syncErrors.E(syncErrors.OpClassify, syncErrors.Component(component),
				syncErrors.KindDuplicate, "unresolved conflict already exists for resource")
		}
	}

	stored := *c
	stored.ClientData = c.ClientData.Clone()
	stored.ServerData = c.ServerData.Clone()
	s.conflicts[c.ID] = &stored
	return nil
}

// Get implements syncengine.ConflictStore.
func (s *Store) GetConflict(ctx context.Context, conflictID string) (*syncengine.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conflicts[conflictID]
	if !ok {
		return nil, syncErrors.E(syncErrors.OpResolve, syncErrors.Component(component),
			syncErrors.KindNotFound, "conflict not found").WithMeta("conflict_id", conflictID)
	}
	out := s.copyConflict(c)
	return out, nil
}

func (s *Store) copyConflict(c *syncengine.Conflict) *syncengine.Conflict {
	out := *c
	out.ClientData = c.ClientData.Clone()
	out.ServerData = c.ServerData.Clone()
	out.MergedData = c.MergedData.Clone()
	return &out
}

// ListUnresolved implements syncengine.ConflictStore.
func (s *Store) ListUnresolved(ctx context.Context, userID string) ([]*syncengine.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*syncengine.Conflict
	for _, c := range s.conflicts {
		if !c.Resolved && c.UserID == userID {
			out = append(out, s.copyConflict(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UnresolvedForResource implements syncengine.ConflictStore.
func (s *Store) UnresolvedForResource(ctx context.Context, resourceType, resourceID string) (*syncengine.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conflicts {
		if !c.Resolved && c.ResourceType == resourceType && c.ResourceID == resourceID {
			return s.copyConflict(c), nil
		}
	}
	return nil, nil
}

// CountUnresolved implements syncengine.ConflictStore.
func (s *Store) CountUnresolved(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.conflicts {
		if !c.Resolved && c.UserID == userID {
			count++
		}
	}
	return count, nil
}

// MarkResolved implements syncengine.ConflictStore.
func (s *Store) MarkResolved(ctx context.Context, conflictID string, strategy syncengine.Strategy, merged syncengine.Payload, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[conflictID]
	if !ok {
		return syncErrors.E(syncErrors.OpResolve, syncErrors.Component(component),
			syncErrors.KindNotFound, "conflict not found").WithMeta("conflict_id", conflictID)
	}
	if c.Resolved {
		return syncErrors.E(syncErrors.OpResolve, syncErrors.Component(component),
			syncErrors.KindAlreadyResolved, "conflict already resolved")
	}

	c.Resolved = true
	c.Resolution = &strategy
	c.MergedData = merged.Clone()
	t := at
	c.ResolvedAt = &t
	return nil
}

// PurgeResolvedBefore implements syncengine.ConflictStore.
func (s *Store) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, c := range s.conflicts {
		if c.Resolved && c.CreatedAt.Before(cutoff) {
			delete(s.conflicts, id)
			purged++
		}
	}
	return purged, nil
}

// Close implements all three store interfaces.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
