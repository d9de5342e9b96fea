package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	syncErrors "github.com/c0deZ3R0/go-sync-engine/errors"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

// Enqueue persists a new operation as queued. The primary key on the
// operation ID enforces the idempotency invariant at the storage layer.
func (s *Store) Enqueue(ctx context.Context, op *syncengine.Operation) error {
	if err := s.checkOpen(syncErrors.OpEnqueue); err != nil {
		return err
	}

	payload, err := marshalPayload(op.Payload)
	if err != nil {
		return wrapDB(err, syncErrors.OpEnqueue)
	}

	query := `INSERT INTO sync_operations
              (id, user_id, resource_type, resource_id, operation_type, payload,
               client_version, conflict_resolution, status, retry_count, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		op.ID, op.UserID, op.ResourceType, op.ResourceID, string(op.Type), payload,
		op.ClientVersion, string(op.Resolution), string(op.Status), op.RetryCount, op.CreatedAt)
	return wrapDB(err, syncErrors.OpEnqueue)
}

const operationColumns = `id, user_id, resource_type, resource_id, operation_type, payload,
    client_version, conflict_resolution, status, retry_count, created_at, processed_at`

func scanOperation(row interface{ Scan(...any) error }) (*syncengine.Operation, error) {
	var (
		op          syncengine.Operation
		payload     sql.NullString
		processedAt sql.NullTime
		opType      string
		resolution  string
		status      string
	)
	err := row.Scan(&op.ID, &op.UserID, &op.ResourceType, &op.ResourceID, &opType, &payload,
		&op.ClientVersion, &resolution, &status, &op.RetryCount, &op.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	op.Type = syncengine.OperationType(opType)
	op.Resolution = syncengine.Strategy(resolution)
	op.Status = syncengine.Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		op.ProcessedAt = &t
	}
	op.Payload, err = unmarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperation retrieves one operation by ID.
func (s *Store) GetOperation(ctx context.Context, operationID string) (*syncengine.Operation, error) {
	if err := s.checkOpen(syncErrors.OpEnqueue); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM sync_operations WHERE id = ?`, operationID)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.E(syncErrors.OpEnqueue, syncErrors.Component(component),
			syncErrors.KindNotFound, "operation not found").WithMeta("operation_id", operationID)
	}
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpEnqueue)
	}
	return op, nil
}

// UsersWithPending returns the IDs of users that have pending operations.
func (s *Store) UsersWithPending(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(syncErrors.OpDrain); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM sync_operations
         WHERE status IN (?, ?) ORDER BY user_id`,
		string(syncengine.StatusQueued), string(syncengine.StatusProcessing))
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpDrain)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, wrapDB(err, syncErrors.OpDrain)
		}
		users = append(users, u)
	}
	return users, wrapDB(rows.Err(), syncErrors.OpDrain)
}

// PendingBatch returns a user's pending operations in FIFO creation order.
// Processing operations are included so an aborted drain's stragglers get
// picked up again; rowid breaks creation-time ties to keep the order stable.
func (s *Store) PendingBatch(ctx context.Context, userID string, limit int) ([]*syncengine.Operation, error) {
	if err := s.checkOpen(syncErrors.OpDrain); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM sync_operations
         WHERE user_id = ? AND status IN (?, ?)
         ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		userID, string(syncengine.StatusQueued), string(syncengine.StatusProcessing), limit)
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpDrain)
	}
	defer rows.Close()

	var batch []*syncengine.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, wrapDB(err, syncErrors.OpDrain)
		}
		batch = append(batch, op)
	}
	return batch, wrapDB(rows.Err(), syncErrors.OpDrain)
}

// MarkStatus transitions an operation's status.
func (s *Store) MarkStatus(ctx context.Context, operationID string, status syncengine.Status, processedAt *time.Time) error {
	if err := s.checkOpen(syncErrors.OpDrain); err != nil {
		return err
	}

	var (
		res sql.Result
		err error
	)
	if processedAt != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sync_operations SET status = ?, processed_at = ? WHERE id = ?`,
			string(status), *processedAt, operationID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sync_operations SET status = ? WHERE id = ?`,
			string(status), operationID)
	}
	if err != nil {
		return wrapDB(err, syncErrors.OpDrain)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err, syncErrors.OpDrain)
	}
	if affected == 0 {
		return syncErrors.E(syncErrors.OpDrain, syncErrors.Component(component),
			syncErrors.KindNotFound, "operation not found").WithMeta("operation_id", operationID)
	}
	return nil
}

// IncrementRetry bumps the operation's retry counter.
func (s *Store) IncrementRetry(ctx context.Context, operationID string) error {
	if err := s.checkOpen(syncErrors.OpDrain); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_operations SET retry_count = retry_count + 1 WHERE id = ?`, operationID)
	return wrapDB(err, syncErrors.OpDrain)
}

// StatusCounts returns the per-status operation counts for a user.
func (s *Store) StatusCounts(ctx context.Context, userID string) (map[syncengine.Status]int, error) {
	if err := s.checkOpen(syncErrors.OpStatus); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_operations WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpStatus)
	}
	defer rows.Close()

	counts := make(map[syncengine.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapDB(err, syncErrors.OpStatus)
		}
		counts[syncengine.Status(status)] = n
	}
	return counts, wrapDB(rows.Err(), syncErrors.OpStatus)
}

// LastProcessedAt returns the most recent processed timestamp for a user.
func (s *Store) LastProcessedAt(ctx context.Context, userID string) (*time.Time, error) {
	if err := s.checkOpen(syncErrors.OpStatus); err != nil {
		return nil, err
	}

	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(processed_at) FROM sync_operations WHERE user_id = ?`, userID).Scan(&last)
	if err != nil {
		return nil, wrapDB(err, syncErrors.OpStatus)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// PurgeTerminal deletes applied/failed operations processed before cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.checkOpen(syncErrors.OpPurge); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_operations
         WHERE status IN (?, ?) AND processed_at IS NOT NULL AND processed_at < ?`,
		string(syncengine.StatusApplied), string(syncengine.StatusFailed), cutoff)
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpPurge)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB(err, syncErrors.OpPurge)
	}
	return int(affected), nil
}
