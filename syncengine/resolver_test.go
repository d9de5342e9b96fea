package syncengine_test

import (
	"context"
	"testing"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/storage/memory"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newResolverFixture(t *testing.T) (*syncengine.Resolver, *memory.Store, *fixedClock) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })

	clock := &fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	r := syncengine.NewResolver(store, store, store, syncengine.DefaultRetryPolicy(), clock, nil)
	return r, store, clock
}

// seedConflict sets up server state at version 3, a conflicting update
// operation, and the persisted conflict record.
func seedConflict(t *testing.T, store *memory.Store, clock *fixedClock) *syncengine.Conflict {
	t.Helper()
	ctx := context.Background()

	for v := int64(0); v < 3; v++ {
		if _, err := store.Commit(ctx, "note", "n1", v, syncengine.Payload{"a": float64(v + 1)}, false, "seed"+string(rune('0'+v))); err != nil {
			t.Fatalf("seed commit v%d: %v", v, err)
		}
	}

	op := &syncengine.Operation{
		ID:            "op-1",
		UserID:        "user-1",
		ResourceType:  "note",
		ResourceID:    "n1",
		Type:          syncengine.OpUpdate,
		Payload:       syncengine.Payload{"a": float64(2)},
		ClientVersion: 1,
		Resolution:    syncengine.StrategyManual,
		Status:        syncengine.StatusNeedsResolution,
		CreatedAt:     clock.now,
	}
	if err := store.Enqueue(ctx, op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	c := &syncengine.Conflict{
		ID:           "c-1",
		OperationID:  op.ID,
		UserID:       op.UserID,
		ResourceType: "note",
		ResourceID:   "n1",
		Type:         syncengine.ConflictVersionMismatch,
		ClientData:   syncengine.Payload{"a": float64(2)},
		ServerData:   syncengine.Payload{"a": float64(3)},
		CreatedAt:    clock.now,
	}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("create conflict: %v", err)
	}
	return c
}

func TestResolveClientWins(t *testing.T) {
	r, store, clock := newResolverFixture(t)
	c := seedConflict(t, store, clock)
	ctx := context.Background()

	result, err := r.Resolve(ctx, c.ID, syncengine.StrategyClientWins, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.NewVersion != 4 {
		t.Errorf("new version = %d, want 4", result.NewVersion)
	}
	if !result.DataChanged {
		t.Error("client_wins must report data changed")
	}

	current, err := store.Get(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Version != 4 {
		t.Errorf("version = %d, want 4", current.Version)
	}
	if got := current.Data["a"]; got != float64(2) {
		t.Errorf("data.a = %v, want 2", got)
	}

	op, err := store.GetOperation(ctx, c.OperationID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if op.Status != syncengine.StatusApplied {
		t.Errorf("operation status = %q, want applied", op.Status)
	}

	resolved, err := store.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConflict: %v", err)
	}
	if !resolved.Resolved {
		t.Error("conflict not marked resolved")
	}
	if resolved.Resolution == nil || *resolved.Resolution != syncengine.StrategyClientWins {
		t.Errorf("recorded resolution = %v", resolved.Resolution)
	}
}

func TestResolveServerWinsLeavesStateUntouched(t *testing.T) {
	r, store, clock := newResolverFixture(t)
	c := seedConflict(t, store, clock)
	ctx := context.Background()

	result, err := r.Resolve(ctx, c.ID, syncengine.StrategyServerWins, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.NewVersion != 0 {
		t.Errorf("new version = %d, want 0 (no commit)", result.NewVersion)
	}
	if result.DataChanged {
		t.Error("server_wins must not report data changed")
	}

	current, err := store.Get(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Version != 3 {
		t.Errorf("version = %d, want unchanged 3", current.Version)
	}
	if got := current.Data["a"]; got != float64(3) {
		t.Errorf("data.a = %v, want 3", got)
	}

	op, err := store.GetOperation(ctx, c.OperationID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if op.Status != syncengine.StatusApplied {
		t.Errorf("operation status = %q, want applied", op.Status)
	}
}

func TestResolveMergeCommitsMergedData(t *testing.T) {
	r, store, clock := newResolverFixture(t)
	c := seedConflict(t, store, clock)
	ctx := context.Background()

	merged := syncengine.Payload{"a": float64(5), "note": "manually merged"}
	result, err := r.Resolve(ctx, c.ID, syncengine.StrategyMerge, merged)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.NewVersion != 4 {
		t.Errorf("new version = %d, want 4", result.NewVersion)
	}

	current, err := store.Get(ctx, "note", "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := current.Data["note"]; got != "manually merged" {
		t.Errorf("data.note = %v", got)
	}

	resolved, err := store.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConflict: %v", err)
	}
	if resolved.MergedData == nil {
		t.Error("merged data not recorded on conflict")
	}
}

func TestResolveMergeWithoutDataFails(t *testing.T) {
	r, store, clock := newResolverFixture(t)
	c := seedConflict(t, store, clock)

	for _, strategy := range []syncengine.Strategy{syncengine.StrategyMerge, syncengine.StrategyManual} {
		_, err := r.Resolve(context.Background(), c.ID, strategy, nil)
		if !syncErrors.IsKind(err, syncErrors.KindMissingMergeData) {
			t.Errorf("%s without merged data: err = %v, want missing merge data", strategy, err)
		}
	}
}

func TestResolveTwiceFails(t *testing.T) {
	r, store, clock := newResolverFixture(t)
	c := seedConflict(t, store, clock)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, c.ID, syncengine.StrategyServerWins, nil); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	_, err := r.Resolve(ctx, c.ID, syncengine.StrategyServerWins, nil)
	if !syncErrors.IsKind(err, syncErrors.KindAlreadyResolved) {
		t.Fatalf("second Resolve err = %v, want already resolved", err)
	}
}

func TestResolveUnknownStrategy(t *testing.T) {
	r, _, _ := newResolverFixture(t)

	_, err := r.Resolve(context.Background(), "c-x", syncengine.Strategy("coin_flip"), nil)
	if !syncErrors.IsKind(err, syncErrors.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	r, _, _ := newResolverFixture(t)

	_, err := r.Resolve(context.Background(), "missing", syncengine.StrategyServerWins, nil)
	if !syncErrors.IsKind(err, syncErrors.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResolveClientWinsDelete(t *testing.T) {
	r, store, clock := newResolverFixture(t)
	ctx := context.Background()

	// Server at version 2, client queued a stale delete.
	for v := int64(0); v < 2; v++ {
		if _, err := store.Commit(ctx, "note", "n2", v, syncengine.Payload{"v": float64(v + 1)}, false, "seed"+string(rune('0'+v))); err != nil {
			t.Fatalf("seed commit: %v", err)
		}
	}
	op := &syncengine.Operation{
		ID:            "op-del",
		UserID:        "user-1",
		ResourceType:  "note",
		ResourceID:    "n2",
		Type:          syncengine.OpDelete,
		ClientVersion: 1,
		Resolution:    syncengine.StrategyManual,
		Status:        syncengine.StatusNeedsResolution,
		CreatedAt:     clock.now,
	}
	if err := store.Enqueue(ctx, op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	c := &syncengine.Conflict{
		ID:           "c-del",
		OperationID:  op.ID,
		UserID:       op.UserID,
		ResourceType: "note",
		ResourceID:   "n2",
		Type:         syncengine.ConflictDeleteUpdateRace,
		CreatedAt:    clock.now,
	}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("create conflict: %v", err)
	}

	if _, err := r.Resolve(ctx, c.ID, syncengine.StrategyClientWins, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	current, err := store.Get(ctx, "note", "n2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !current.Deleted {
		t.Error("resource not tombstoned after client_wins delete")
	}
	if current.Version != 3 {
		t.Errorf("version = %d, want 3", current.Version)
	}
}
