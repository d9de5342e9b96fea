package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

// Get retrieves the current version row for a resource key.
func (s *Store) Get(ctx context.Context, resourceType, resourceID string) (*syncengine.ResourceVersion, error) {
	if err := s.checkOpen(syncErrors.OpCommit); err != nil {
		return nil, err
	}

	query := `SELECT version, data, deleted, last_modified_by, updated_at
              FROM resource_versions WHERE resource_type = ? AND resource_id = ?`

	var (
		rv        syncengine.ResourceVersion
		data      sql.NullString
		deleted   int
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, resourceType, resourceID).
		Scan(&rv.Version, &data, &deleted, &rv.LastModifiedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.E(syncErrors.OpCommit, syncErrors.Component(component),
			syncErrors.KindNotFound, "resource not found")
	}
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpCommit)
	}

	rv.ResourceType = resourceType
	rv.ResourceID = resourceID
	rv.Deleted = deleted != 0
	rv.UpdatedAt = updatedAt
	rv.Data, err = unmarshalPayload(data)
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpCommit)
	}
	return &rv, nil
}

// Commit atomically bumps the version and writes new state under an
// optimistic version check. Re-commits by the operation that last mutated
// the row are idempotent no-ops.
func (s *Store) Commit(ctx context.Context, resourceType, resourceID string, expectedVersion int64, data syncengine.Payload, deleted bool, operationID string) (int64, error) {
	if err := s.checkOpen(syncErrors.OpCommit); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpCommit)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		currentVersion int64
		lastModifiedBy string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT version, last_modified_by FROM resource_versions
         WHERE resource_type = ? AND resource_id = ?`, resourceType, resourceID)
	scanErr := row.Scan(&currentVersion, &lastModifiedBy)

	exists := true
	if errors.Is(scanErr, sql.ErrNoRows) {
		exists = false
	} else if scanErr != nil {
		err = scanErr
		return 0, wrapDB(err, syncErrors.OpCommit)
	}

	if exists && lastModifiedBy == operationID {
		// Already applied by this operation; re-drains must not double-apply.
		tx.Rollback()
		return currentVersion, nil
	}

	if currentVersion != expectedVersion {
		err = errors.New("stale expected version")
		return 0, syncErrors.E(syncErrors.OpCommit, syncErrors.Component(component),
			syncErrors.KindVersionConflict, "stored version does not match expected version").
			WithMeta("expected", expectedVersion).
			WithMeta("actual", currentVersion)
	}

	payload, err := marshalPayload(data)
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpCommit)
	}

	newVersion := currentVersion + 1
	now := time.Now().UTC()

	var res sql.Result
	if exists {
		// The version predicate is the optimistic concurrency backstop: if a
		// racing commit landed after our read, zero rows match.
		res, err = tx.ExecContext(ctx,
			`UPDATE resource_versions
             SET version = ?, data = ?, deleted = ?, last_modified_by = ?, updated_at = ?
             WHERE resource_type = ? AND resource_id = ? AND version = ?`,
			newVersion, payload, boolToInt(deleted), operationID, now,
			resourceType, resourceID, expectedVersion)
	} else {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO resource_versions
             (resource_type, resource_id, version, data, deleted, last_modified_by, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			resourceType, resourceID, newVersion, payload, boolToInt(deleted), operationID, now)
	}
	if err != nil {
		if syncErrors.IsKind(wrapDB(err, syncErrors.OpCommit), syncErrors.KindDuplicate) {
			// Insert race on first create: another commit created the row.
			return 0, syncErrors.E(syncErrors.OpCommit, syncErrors.Component(component),
				syncErrors.KindVersionConflict, err)
		}
		return 0, wrapDB(err, syncErrors.OpCommit)
	}

	if exists {
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return 0, wrapDB(err, syncErrors.OpCommit)
		}
		if affected == 0 {
			err = errors.New("concurrent commit")
			return 0, syncErrors.E(syncErrors.OpCommit, syncErrors.Component(component),
				syncErrors.KindVersionConflict, "a concurrent commit won the race")
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, wrapDB(err, syncErrors.OpCommit)
	}
	return newVersion, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
