package syncengine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VersionStore holds the authoritative current state and monotonic version
// per resource key. Implementations can use any storage backend.
type VersionStore interface {
	// Get retrieves the current version row for a resource key.
	// Returns a KindNotFound error if the resource has never existed.
	Get(ctx context.Context, resourceType, resourceID string) (*ResourceVersion, error)

	// Commit atomically bumps the version and writes new state. It fails with
	// a KindVersionConflict error if the stored version does not equal
	// expectedVersion at commit time. Committing with an operationID equal to
	// the row's LastModifiedBy is an idempotent no-op returning the current
	// version, so re-drains never double-apply.
	Commit(ctx context.Context, resourceType, resourceID string, expectedVersion int64, data Payload, deleted bool, operationID string) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// OperationQueue is the durable, per-user FIFO intake of sync operations.
type OperationQueue interface {
	// Enqueue persists a new operation. Fails with a KindDuplicate error if
	// the operation ID was already accepted.
	Enqueue(ctx context.Context, op *Operation) error

	// GetOperation retrieves one operation by ID; KindNotFound if unknown.
	GetOperation(ctx context.Context, operationID string) (*Operation, error)

	// UsersWithPending returns the IDs of users that have queued operations.
	UsersWithPending(ctx context.Context) ([]string, error)

	// PendingBatch returns up to limit queued operations for a user in FIFO
	// creation order. Ordering is load-bearing: operations against the same
	// resource must apply in submission order.
	PendingBatch(ctx context.Context, userID string, limit int) ([]*Operation, error)

	// MarkStatus transitions an operation's status. processedAt is recorded
	// when non-nil (terminal and needs_resolution transitions).
	MarkStatus(ctx context.Context, operationID string, status Status, processedAt *time.Time) error

	// IncrementRetry bumps the operation's retry counter.
	IncrementRetry(ctx context.Context, operationID string) error

	// StatusCounts returns the per-status operation counts for a user.
	StatusCounts(ctx context.Context, userID string) (map[Status]int, error)

	// LastProcessedAt returns the most recent processed timestamp for a user,
	// or nil if nothing has been processed.
	LastProcessedAt(ctx context.Context, userID string) (*time.Time, error)

	// PurgeTerminal deletes applied/failed operations whose processed
	// timestamp precedes cutoff. Returns the number purged.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases resources held by the queue.
	Close() error
}

// ConflictStore persists conflict records.
type ConflictStore interface {
	// Create persists a new conflict record.
	Create(ctx context.Context, c *Conflict) error

	// GetConflict retrieves one conflict by ID; KindNotFound if unknown.
	GetConflict(ctx context.Context, conflictID string) (*Conflict, error)

	// ListUnresolved returns a user's unresolved conflicts, oldest first.
	ListUnresolved(ctx context.Context, userID string) ([]*Conflict, error)

	// UnresolvedForResource returns the unresolved conflict for a resource
	// key, or nil if none exists.
	UnresolvedForResource(ctx context.Context, resourceType, resourceID string) (*Conflict, error)

	// CountUnresolved returns the number of unresolved conflicts for a user.
	CountUnresolved(ctx context.Context, userID string) (int, error)

	// MarkResolved records the resolution decision. Fails with a
	// KindAlreadyResolved error if the conflict was already resolved.
	MarkResolved(ctx context.Context, conflictID string, strategy Strategy, merged Payload, at time.Time) error

	// PurgeResolvedBefore deletes resolved conflicts created before cutoff.
	// Unresolved conflicts are never purged regardless of age.
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock { return systemClock{} }

// IDGenerator produces unique identifiers for operations and conflicts.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// UUIDGenerator returns an IDGenerator backed by google/uuid.
func UUIDGenerator() IDGenerator { return uuidGenerator{} }
