package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

// Create persists a new conflict record. The partial unique index on
// unresolved (resource_type, resource_id) enforces conflict singularity at
// the storage layer.
func (s *Store) Create(ctx context.Context, c *syncengine.Conflict) error {
	if err := s.checkOpen(syncErrors.OpClassify); err != nil {
		return err
	}

	clientData, err := marshalPayload(c.ClientData)
	if err != nil {
		return wrapDB(err, syncErrors.OpClassify)
	}
	serverData, err := marshalPayload(c.ServerData)
	if err != nil {
		return wrapDB(err, syncErrors.OpClassify)
	}

	query := `INSERT INTO sync_conflicts
              (id, operation_id, user_id, resource_type, resource_id, conflict_type,
               client_data, server_data, created_at, resolved)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.OperationID, c.UserID, c.ResourceType, c.ResourceID, string(c.Type),
		clientData, serverData, c.CreatedAt)
	return wrapDB(err, syncErrors.OpClassify)
}

const conflictColumns = `id, operation_id, user_id, resource_type, resource_id, conflict_type,
    client_data, server_data, created_at, resolved, resolution, merged_data, resolved_at`

func scanConflict(row interface{ Scan(...any) error }) (*syncengine.Conflict, error) {
	var (
		c          syncengine.Conflict
		ctype      string
		clientData sql.NullString
		serverData sql.NullString
		mergedData sql.NullString
		resolved   int
		resolution sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.OperationID, &c.UserID, &c.ResourceType, &c.ResourceID, &ctype,
		&clientData, &serverData, &c.CreatedAt, &resolved, &resolution, &mergedData, &resolvedAt)
	if err != nil {
		return nil, err
	}

	c.Type = syncengine.ConflictType(ctype)
	c.Resolved = resolved != 0
	if resolution.Valid {
		strategy := syncengine.Strategy(resolution.String)
		c.Resolution = &strategy
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	if c.ClientData, err = unmarshalPayload(clientData); err != nil {
		return nil, err
	}
	if c.ServerData, err = unmarshalPayload(serverData); err != nil {
		return nil, err
	}
	if c.MergedData, err = unmarshalPayload(mergedData); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConflict retrieves one conflict by ID.
func (s *Store) GetConflict(ctx context.Context, conflictID string) (*syncengine.Conflict, error) {
	if err := s.checkOpen(syncErrors.OpResolve); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, conflictID)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.E(syncErrors.OpResolve, syncErrors.Component(component),
			syncErrors.KindNotFound, "conflict not found").WithMeta("conflict_id", conflictID)
	}
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpResolve)
	}
	return c, nil
}

// ListUnresolved returns a user's unresolved conflicts, oldest first.
func (s *Store) ListUnresolved(ctx context.Context, userID string) ([]*syncengine.Conflict, error) {
	if err := s.checkOpen(syncErrors.OpResolve); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts
         WHERE user_id = ? AND resolved = 0 ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpResolve)
	}
	defer rows.Close()

	var out []*syncengine.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, wrapDB(err, syncErrors.OpResolve)
		}
		out = append(out, c)
	}
	return out, wrapDB(rows.Err(), syncErrors.OpResolve)
}

// UnresolvedForResource returns the unresolved conflict for a resource key,
// or nil if none exists.
func (s *Store) UnresolvedForResource(ctx context.Context, resourceType, resourceID string) (*syncengine.Conflict, error) {
	if err := s.checkOpen(syncErrors.OpClassify); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts
         WHERE resource_type = ? AND resource_id = ? AND resolved = 0`, resourceType, resourceID)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpClassify)
	}
	return c, nil
}

// CountUnresolved returns the number of unresolved conflicts for a user.
func (s *Store) CountUnresolved(ctx context.Context, userID string) (int, error) {
	if err := s.checkOpen(syncErrors.OpStatus); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE user_id = ? AND resolved = 0`, userID).Scan(&count)
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpStatus)
	}
	return count, nil
}

// MarkResolved records the resolution decision exactly once.
func (s *Store) MarkResolved(ctx context.Context, conflictID string, strategy syncengine.Strategy, merged syncengine.Payload, at time.Time) error {
	if err := s.checkOpen(syncErrors.OpResolve); err != nil {
		return err
	}

	mergedData, err := marshalPayload(merged)
	if err != nil {
		return wrapDB(err, syncErrors.OpResolve)
	}

	// The resolved predicate makes a second resolution a detectable no-op
	// rather than a silent overwrite.
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_conflicts SET resolved = 1, resolution = ?, merged_data = ?, resolved_at = ?
         WHERE id = ? AND resolved = 0`,
		string(strategy), mergedData, at, conflictID)
	if err != nil {
		return wrapDB(err, syncErrors.OpResolve)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err, syncErrors.OpResolve)
	}
	if affected == 0 {
		// Distinguish unknown from already resolved.
		var resolved int
		scanErr := s.db.QueryRowContext(ctx,
			`SELECT resolved FROM sync_conflicts WHERE id = ?`, conflictID).Scan(&resolved)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return syncErrors.E(syncErrors.OpResolve, syncErrors.Component(component),
				syncErrors.KindNotFound, "conflict not found").WithMeta("conflict_id", conflictID)
		}
		if scanErr != nil {
			return wrapDB(scanErr, syncErrors.OpResolve)
		}
		return syncErrors.E(syncErrors.OpResolve, syncErrors.Component(component),
			syncErrors.KindAlreadyResolved, "conflict already resolved").WithMeta("conflict_id", conflictID)
	}
	return nil
}

// PurgeResolvedBefore deletes resolved conflicts created before cutoff.
// Unresolved conflicts are never purged regardless of age.
func (s *Store) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.checkOpen(syncErrors.OpPurge); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_conflicts WHERE resolved = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpPurge)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpPurge)
	}
	return int(affected), nil
}
