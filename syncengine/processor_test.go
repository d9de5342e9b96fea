package syncengine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/storage/memory"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

func fastRetry() syncengine.RetryPolicy {
	return syncengine.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newEngine(t *testing.T, opts ...syncengine.Option) (*syncengine.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]syncengine.Option{syncengine.WithRetryPolicy(fastRetry())}, opts...)
	service := syncengine.New(store, store, store, opts...)
	t.Cleanup(func() { service.Close() })
	return service, store
}

func queueOp(t *testing.T, s *syncengine.Service, req syncengine.QueueRequest) string {
	t.Helper()
	id, err := s.QueueOperation(context.Background(), req)
	if err != nil {
		t.Fatalf("QueueOperation: %v", err)
	}
	return id
}

func drain(t *testing.T, s *syncengine.Service, userID string) syncengine.DrainResult {
	t.Helper()
	result, err := s.ProcessUserQueue(context.Background(), userID)
	if err != nil {
		t.Fatalf("ProcessUserQueue: %v", err)
	}
	return result
}

func TestDrainAppliesCleanOperations(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})
	result := drain(t, s, "u1")
	if result.Applied != 1 || result.Processed != 1 {
		t.Fatalf("result = %+v, want 1 applied", result)
	}

	current, err := store.Get(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Version != 1 {
		t.Errorf("version = %d, want 1", current.Version)
	}

	// Update against the confirmed version also applies cleanly.
	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "v2"},
		ClientVersion: 1,
	})
	result = drain(t, s, "u1")
	if result.Applied != 1 {
		t.Fatalf("result = %+v, want 1 applied", result)
	}

	current, _ = store.Get(ctx, "note", "n1")
	if current.Version != 2 {
		t.Errorf("version = %d, want 2", current.Version)
	}
	if got := current.Data["title"]; got != "v2" {
		t.Errorf("title = %v, want v2", got)
	}
}

func TestDrainDeleteCreatesTombstone(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})
	drain(t, s, "u1")

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpDelete, ClientVersion: 1,
	})
	result := drain(t, s, "u1")
	if result.Applied != 1 {
		t.Fatalf("result = %+v", result)
	}

	current, err := store.Get(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("tombstone must remain readable: %v", err)
	}
	if !current.Deleted {
		t.Error("expected deleted tombstone")
	}
	if current.Version != 2 {
		t.Errorf("version = %d, want 2", current.Version)
	}
	if current.Data != nil {
		t.Error("tombstone must not carry payload data")
	}
}

func TestDrainFIFOWithinResource(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	// Three dependent edits submitted offline in order: each claims the
	// version the previous one will establish.
	queueOp(t, s, syncengine.QueueRequest{
		OperationID: "op-01",
		UserID:      "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"step": float64(1)},
	})
	queueOp(t, s, syncengine.QueueRequest{
		OperationID: "op-02",
		UserID:      "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"step": float64(2)}, ClientVersion: 1,
	})
	queueOp(t, s, syncengine.QueueRequest{
		OperationID: "op-03",
		UserID:      "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"step": float64(3)}, ClientVersion: 2,
	})

	result := drain(t, s, "u1")
	if result.Applied != 3 {
		t.Fatalf("result = %+v, want 3 applied", result)
	}

	current, _ := store.Get(ctx, "note", "n1")
	if current.Version != 3 {
		t.Errorf("version = %d, want 3", current.Version)
	}
	if got := current.Data["step"]; got != float64(3) {
		t.Errorf("step = %v, want 3", got)
	}
}

func TestDrainStaleUpdateCreatesConflict(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "server"},
	})
	drain(t, s, "u1")

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "stale"},
		ClientVersion: 0,
	})
	result := drain(t, s, "u1")
	if result.Conflicted != 1 {
		t.Fatalf("result = %+v, want 1 conflicted", result)
	}

	conflicts, err := store.ListUnresolved(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != syncengine.ConflictVersionMismatch {
		t.Errorf("conflict type = %q", c.Type)
	}
	if got := c.ClientData["title"]; got != "stale" {
		t.Errorf("client data = %v", got)
	}
	if got := c.ServerData["title"]; got != "server" {
		t.Errorf("server data = %v", got)
	}

	// Server state is untouched while the conflict is open.
	current, _ := store.Get(ctx, "note", "n1")
	if current.Version != 1 {
		t.Errorf("version = %d, want 1", current.Version)
	}
}

func TestDrainConflictBlocksLaterOperationsOnKey(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})
	drain(t, s, "u1")

	// A stale update followed by a would-be clean update on the same key.
	staleID := queueOp(t, s, syncengine.QueueRequest{
		OperationID: "op-01-stale",
		UserID:      "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "stale"},
		ClientVersion: 0,
	})
	laterID := queueOp(t, s, syncengine.QueueRequest{
		OperationID: "op-02-later",
		UserID:      "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "later"},
		ClientVersion: 1,
	})

	result := drain(t, s, "u1")
	if result.Conflicted != 1 {
		t.Fatalf("result = %+v, want 1 conflicted", result)
	}

	stale, _ := store.GetOperation(ctx, staleID)
	if stale.Status != syncengine.StatusNeedsResolution {
		t.Errorf("stale op status = %q, want needs_resolution", stale.Status)
	}
	later, _ := store.GetOperation(ctx, laterID)
	if later.Status != syncengine.StatusQueued {
		t.Errorf("later op status = %q, want queued behind conflict", later.Status)
	}

	// Conflict singularity: re-draining does not spawn a second conflict.
	drain(t, s, "u1")
	if n, _ := store.CountUnresolved(ctx, "u1"); n != 1 {
		t.Errorf("unresolved = %d, want 1", n)
	}

	// Resolving unblocks the queued operation on the next drain.
	conflicts, _ := store.ListUnresolved(ctx, "u1")
	if _, err := s.ResolveConflict(ctx, conflicts[0].ID, syncengine.StrategyServerWins, nil); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	result = drain(t, s, "u1")
	if result.Applied != 1 {
		t.Fatalf("post-resolve result = %+v, want 1 applied", result)
	}
	later, _ = store.GetOperation(ctx, laterID)
	if later.Status != syncengine.StatusApplied {
		t.Errorf("later op status = %q, want applied", later.Status)
	}
}

func TestDrainClientWinsAutoResolves(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "server"},
	})
	drain(t, s, "u1")

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "client"},
		ClientVersion: 0,
		Resolution:    syncengine.StrategyClientWins,
	})
	result := drain(t, s, "u1")
	if result.Applied != 1 || result.Conflicted != 0 {
		t.Fatalf("result = %+v, want auto-resolved apply", result)
	}

	current, _ := store.Get(ctx, "note", "n1")
	if current.Version != 2 {
		t.Errorf("version = %d, want 2", current.Version)
	}
	if got := current.Data["title"]; got != "client" {
		t.Errorf("title = %v, want client", got)
	}
	if n, _ := store.CountUnresolved(ctx, "u1"); n != 0 {
		t.Errorf("unresolved = %d, want 0", n)
	}
}

func TestDrainServerWinsAutoResolves(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "server"},
	})
	drain(t, s, "u1")

	opID := queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "discarded"},
		ClientVersion: 0,
		Resolution:    syncengine.StrategyServerWins,
	})
	result := drain(t, s, "u1")
	if result.Applied != 1 || result.Conflicted != 0 {
		t.Fatalf("result = %+v", result)
	}

	current, _ := store.Get(ctx, "note", "n1")
	if current.Version != 1 {
		t.Errorf("version = %d, want unchanged 1", current.Version)
	}
	if got := current.Data["title"]; got != "server" {
		t.Errorf("title = %v, want server", got)
	}
	op, _ := store.GetOperation(ctx, opID)
	if op.Status != syncengine.StatusApplied {
		t.Errorf("op status = %q, want applied", op.Status)
	}
}

func TestDrainClientAheadForcesManual(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})
	drain(t, s, "u1")

	// Client claims version 9 against server version 1. Even a client_wins
	// preference must not auto-apply; this signals client-side corruption.
	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "future"},
		ClientVersion: 9,
		Resolution:    syncengine.StrategyClientWins,
	})
	result := drain(t, s, "u1")
	if result.Conflicted != 1 {
		t.Fatalf("result = %+v, want conflict", result)
	}

	conflicts, _ := store.ListUnresolved(ctx, "u1")
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d", len(conflicts))
	}
	if conflicts[0].Type != syncengine.ConflictVersionMismatch {
		t.Errorf("conflict type = %q", conflicts[0].Type)
	}
}

func TestDrainDeleteOfUnknownResource(t *testing.T) {
	s, store := newEngine(t)
	ctx := context.Background()

	// Never-confirmed resource: the delete is a harmless noop.
	noopID := queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "ghost",
		Type: syncengine.OpDelete, ClientVersion: 0,
	})
	// Client had seen version 2 of a resource the server no longer knows.
	conflictID := queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "lost",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "x"},
		ClientVersion: 2,
	})

	result := drain(t, s, "u1")
	if result.Applied != 1 || result.Conflicted != 1 {
		t.Fatalf("result = %+v, want 1 applied + 1 conflicted", result)
	}

	noop, _ := store.GetOperation(ctx, noopID)
	if noop.Status != syncengine.StatusApplied {
		t.Errorf("noop delete status = %q, want applied", noop.Status)
	}
	conflicted, _ := store.GetOperation(ctx, conflictID)
	if conflicted.Status != syncengine.StatusNeedsResolution {
		t.Errorf("conflicted op status = %q", conflicted.Status)
	}

	conflicts, _ := store.ListUnresolved(ctx, "u1")
	if len(conflicts) != 1 || conflicts[0].Type != syncengine.ConflictConcurrentDelete {
		t.Errorf("conflicts = %+v, want one concurrent_delete", conflicts)
	}
}

func TestDrainIndependentResourcesProgressPastConflict(t *testing.T) {
	s, _ := newEngine(t)

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})
	drain(t, s, "u1")

	// Conflict on n1, clean create on n2.
	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpUpdate, Payload: syncengine.Payload{"title": "stale"},
		ClientVersion: 0,
	})
	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n2",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "other"},
	})

	result := drain(t, s, "u1")
	if result.Conflicted != 1 || result.Applied != 1 {
		t.Fatalf("result = %+v, want conflict on one key and apply on the other", result)
	}
}

// unavailableStore fails version commits a fixed number of times to simulate
// storage being down.
type unavailableStore struct {
	*memory.Store
	failures int
}

func (u *unavailableStore) Commit(ctx context.Context, resourceType, resourceID string, expectedVersion int64, data syncengine.Payload, deleted bool, operationID string) (int64, error) {
	if u.failures > 0 {
		u.failures--
		return 0, syncErrors.E(syncErrors.OpCommit, syncErrors.KindUnavailable, "store offline")
	}
	return u.Store.Commit(ctx, resourceType, resourceID, expectedVersion, data, deleted, operationID)
}

func TestDrainStoreUnavailableLeavesOperationQueued(t *testing.T) {
	base := memory.New()
	flaky := &unavailableStore{Store: base, failures: 1}
	s := syncengine.New(flaky, base, base, syncengine.WithRetryPolicy(fastRetry()))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	opID := queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})

	result := drain(t, s, "u1")
	if result.Applied != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want nothing processed", result)
	}

	op, err := base.GetOperation(ctx, opID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if op.Status != syncengine.StatusQueued {
		t.Fatalf("status = %q, want queued for next drain", op.Status)
	}

	// The store is back: the next drain applies it.
	result = drain(t, s, "u1")
	if result.Applied != 1 {
		t.Fatalf("recovery result = %+v, want 1 applied", result)
	}
}

// racingStore loses the optimistic version check a fixed number of times
// before succeeding, simulating a concurrent committer.
type racingStore struct {
	*memory.Store
	races int
}

func (r *racingStore) Commit(ctx context.Context, resourceType, resourceID string, expectedVersion int64, data syncengine.Payload, deleted bool, operationID string) (int64, error) {
	if r.races > 0 {
		r.races--
		return 0, syncErrors.E(syncErrors.OpCommit, syncErrors.KindVersionConflict, "version changed")
	}
	return r.Store.Commit(ctx, resourceType, resourceID, expectedVersion, data, deleted, operationID)
}

func TestDrainRetriesCommitRaces(t *testing.T) {
	base := memory.New()
	racing := &racingStore{Store: base, races: 2}
	s := syncengine.New(racing, base, base, syncengine.WithRetryPolicy(fastRetry()))
	t.Cleanup(func() { s.Close() })

	queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})

	result := drain(t, s, "u1")
	if result.Applied != 1 {
		t.Fatalf("result = %+v, want applied after retried races", result)
	}
}

func TestDrainRetryExhaustionFails(t *testing.T) {
	base := memory.New()
	racing := &racingStore{Store: base, races: 100}
	s := syncengine.New(racing, base, base, syncengine.WithRetryPolicy(fastRetry()))
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	opID := queueOp(t, s, syncengine.QueueRequest{
		UserID: "u1", ResourceType: "note", ResourceID: "n1",
		Type: syncengine.OpCreate, Payload: syncengine.Payload{"title": "v1"},
	})

	result := drain(t, s, "u1")
	if result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", result)
	}

	op, _ := base.GetOperation(ctx, opID)
	if op.Status != syncengine.StatusFailed {
		t.Errorf("status = %q, want failed", op.Status)
	}
	if op.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", op.RetryCount)
	}
	if op.ProcessedAt == nil {
		t.Error("failed op must carry processed_at")
	}
}

func TestDrainEmptyQueue(t *testing.T) {
	s, _ := newEngine(t)
	result := drain(t, s, "nobody")
	if result != (syncengine.DrainResult{}) {
		t.Fatalf("result = %+v, want zero", result)
	}
}

func TestDrainBatchSizeLimitsOneSweep(t *testing.T) {
	s, _ := newEngine(t, syncengine.WithBatchSize(2))

	for i := 0; i < 5; i++ {
		queueOp(t, s, syncengine.QueueRequest{
			UserID: "u1", ResourceType: "note", ResourceID: fmt.Sprintf("n%d", i),
			Type: syncengine.OpCreate, Payload: syncengine.Payload{"i": float64(i)},
		})
	}

	if result := drain(t, s, "u1"); result.Processed != 2 {
		t.Fatalf("first sweep processed = %d, want 2", result.Processed)
	}
	if result := drain(t, s, "u1"); result.Processed != 2 {
		t.Fatalf("second sweep processed = %d, want 2", result.Processed)
	}
	if result := drain(t, s, "u1"); result.Processed != 1 {
		t.Fatalf("third sweep processed = %d, want 1", result.Processed)
	}
}
