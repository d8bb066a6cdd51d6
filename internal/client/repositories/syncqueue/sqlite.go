// Package syncqueue is the durable, ordered log of local writes that still
// have to reach the remote store. Operations are only ever deleted by
// Remove; exhausted or permanently failing ones are dead-lettered and kept.
package syncqueue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/google/uuid"
)

type SQLiteQueue struct {
	mu     sync.Mutex
	db     *sql.DB
	policy Policy
	now    func() time.Time
}

func NewSQLiteQueue(db *sql.DB, policy Policy) *SQLiteQueue {
	return &SQLiteQueue{db: db, policy: policy, now: time.Now}
}

const opColumns = `operation_id, entity_kind, entity_id, owner_id, action, payload, created_at,
	retry_count, last_attempt_at, last_error, next_attempt_at, status, depends_on`

// Enqueue appends op. OperationID, CreatedAt and Status are filled in when
// empty; the stored copy is returned.
func (q *SQLiteQueue) Enqueue(ctx context.Context, op models.SyncOperation) (models.SyncOperation, error) {
	if op.OperationID == "" {
		op.OperationID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now()
	}
	op.Status = models.OpPending
	op.RetryCount = 0

	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue (operation_id, entity_kind, entity_id, owner_id, action, payload,
			created_at, next_attempt_at, status, depends_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.OperationID, op.EntityKind, op.EntityID, op.OwnerID, op.Action, op.Payload,
		op.CreatedAt.UnixNano(), op.NextAttemptAt.UnixNano(), op.Status, joinRefs(op.DependsOn))
	if err != nil {
		return models.SyncOperation{}, fmt.Errorf("failed to enqueue %s %s: %w", op.Action, op.Ref(), records.Classify(err))
	}
	return op, nil
}

// All returns every operation, dead letters included, in enqueue order.
func (q *SQLiteQueue) All(ctx context.Context) ([]models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.selectOps(ctx, q.db, `1 = 1`)
}

func (q *SQLiteQueue) DeadLetters(ctx context.Context) ([]models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.selectOps(ctx, q.db, `status = ?`, models.OpDead)
}

// Ready returns up to limit operations of owner that may be attempted now.
// An operation is held back while an earlier pending operation on the same
// record exists, while its backoff has not elapsed, or while a record it
// references still awaits its create.
func (q *SQLiteQueue) Ready(ctx context.Context, owner string, now time.Time, limit int) ([]models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.selectOps(ctx, q.db, `owner_id = ? AND status IN (?, ?)`, owner, models.OpPending, models.OpDead)
	if err != nil {
		return nil, err
	}

	uncreated := map[models.Ref]bool{}
	for _, op := range ops {
		if op.Action == models.ActionCreate {
			uncreated[op.Ref()] = true
		}
	}

	seen := map[models.Ref]bool{}
	var ready []models.SyncOperation
	for _, op := range ops {
		if op.Status != models.OpPending {
			continue
		}
		first := !seen[op.Ref()]
		seen[op.Ref()] = true
		if !first || op.NextAttemptAt.After(now) || blocked(op, uncreated) {
			continue
		}
		ready = append(ready, op)
		if limit > 0 && len(ready) == limit {
			break
		}
	}
	return ready, nil
}

func blocked(op models.SyncOperation, uncreated map[models.Ref]bool) bool {
	for _, dep := range op.DependsOn {
		if dep != op.Ref() && uncreated[dep] {
			return true
		}
	}
	return false
}

// PeekNext returns the next ready operation of owner, or nil.
func (q *SQLiteQueue) PeekNext(ctx context.Context, owner string, now time.Time) (*models.SyncOperation, error) {
	ops, err := q.Ready(ctx, owner, now, 1)
	if err != nil || len(ops) == 0 {
		return nil, err
	}
	return &ops[0], nil
}

// MarkAttempted records a failed attempt: the retry count grows, the next
// attempt is pushed back, and the operation is dead-lettered once the retry
// cap is reached. A nil attemptErr only stamps the attempt time.
func (q *SQLiteQueue) MarkAttempted(ctx context.Context, id string, attemptErr error) (models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out models.SyncOperation
	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		op, err := q.getOp(ctx, tx, id)
		if err != nil {
			return err
		}
		now := q.now()
		op.LastAttemptAt = &now
		if attemptErr != nil {
			op.RetryCount++
			op.LastError = attemptErr.Error()
			op.NextAttemptAt = now.Add(q.policy.Delay(op.RetryCount))
			if q.policy.MaxRetries > 0 && op.RetryCount >= q.policy.MaxRetries {
				op.Status = models.OpDead
			}
		}
		out = op
		return q.saveState(ctx, tx, op)
	})
	if err != nil {
		return models.SyncOperation{}, fmt.Errorf("failed to mark operation %s: %w", id, records.Classify(err))
	}
	return out, nil
}

// RecordError notes a failure without consuming a retry, for failures that
// say nothing about the operation itself (a rejected identity).
func (q *SQLiteQueue) RecordError(ctx context.Context, id string, attemptErr error) error {
	return q.update(ctx, id, func(op *models.SyncOperation) {
		now := q.now()
		op.LastAttemptAt = &now
		op.LastError = errString(attemptErr)
	})
}

// DeadLetter flags the operation as permanently failed. It stays in the
// queue, visible to DeadLetters, until requeued or dismissed.
func (q *SQLiteQueue) DeadLetter(ctx context.Context, id string, cause error) error {
	return q.update(ctx, id, func(op *models.SyncOperation) {
		now := q.now()
		op.LastAttemptAt = &now
		op.LastError = errString(cause)
		op.Status = models.OpDead
	})
}

// Requeue gives a dead-lettered operation a fresh retry budget.
func (q *SQLiteQueue) Requeue(ctx context.Context, id string) error {
	return q.update(ctx, id, func(op *models.SyncOperation) {
		op.Status = models.OpPending
		op.RetryCount = 0
		op.NextAttemptAt = time.Time{}
	})
}

// Dismiss hides a dead letter from the issue count. The operation is kept.
func (q *SQLiteQueue) Dismiss(ctx context.Context, id string) error {
	return q.update(ctx, id, func(op *models.SyncOperation) {
		if op.Status == models.OpDead {
			op.Status = models.OpDismissed
		}
	})
}

func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE operation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, records.Classify(err))
	}
	return nil
}

// HasPending reports whether the record has a pending operation other than
// the one identified by exceptID (which may be empty).
func (q *SQLiteQueue) HasPending(ctx context.Context, kind models.Kind, id, exceptID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue
		WHERE entity_kind = ? AND entity_id = ? AND status = ? AND operation_id <> ?
	`, kind, id, models.OpPending, exceptID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count operations of %s %s: %w", kind, id, records.Classify(err))
	}
	return n > 0, nil
}

// Depth returns the number of pending and of dead-lettered operations.
func (q *SQLiteQueue) Depth(ctx context.Context) (pending, dead int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM sync_queue
	`, models.OpPending, models.OpDead).Scan(&pending, &dead)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count queue: %w", records.Classify(err))
	}
	return pending, dead, nil
}

// Remap moves queued operations of (kind, oldID) to newID and rewrites
// references to oldID inside every queued payload. The operation skipID is
// left untouched: it is the create being confirmed, and replaying it under
// its temporary id stays deduplicated by the server. Remap is idempotent.
func (q *SQLiteQueue) Remap(ctx context.Context, kind models.Kind, oldID, newID, skipID string) (int, error) {
	mapping := models.IdentityMapping{}
	mapping.Add(kind, oldID, newID)
	oldRef := models.Ref{Kind: kind, ID: oldID}

	q.mu.Lock()
	defer q.mu.Unlock()

	changed := 0
	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ops, err := q.selectOps(ctx, tx, `1 = 1`)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.OperationID == skipID {
				continue
			}
			dirty := false
			if op.Ref() == oldRef {
				op.EntityID = newID
				dirty = true
			}
			if len(op.Payload) > 0 {
				e, err := codec.DecodePayload(op.Payload)
				if err != nil {
					return err
				}
				touched := mapping.Apply(e)
				if e.Kind() == kind && e.Head().ID == oldID {
					e.Head().ID = newID
					touched = true
				}
				if touched {
					if op.Payload, err = codec.EncodePayload(e); err != nil {
						return err
					}
					dirty = true
				}
			}
			deps := op.DependsOn[:0:0]
			for _, d := range op.DependsOn {
				if d == oldRef {
					dirty = true
					continue
				}
				deps = append(deps, d)
			}
			op.DependsOn = deps
			if !dirty {
				continue
			}
			changed++
			if _, err := tx.ExecContext(ctx,
				`UPDATE sync_queue SET entity_id = ?, payload = ?, depends_on = ? WHERE operation_id = ?`,
				op.EntityID, op.Payload, joinRefs(op.DependsOn), op.OperationID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remap queue %s %s -> %s: %w", kind, oldID, newID, records.Classify(err))
	}
	return changed, nil
}

func (q *SQLiteQueue) update(ctx context.Context, id string, fn func(op *models.SyncOperation)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		op, err := q.getOp(ctx, tx, id)
		if err != nil {
			return err
		}
		fn(&op)
		return q.saveState(ctx, tx, op)
	})
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", id, records.Classify(err))
	}
	return nil
}

func (q *SQLiteQueue) getOp(ctx context.Context, tx dbx.DBTX, id string) (models.SyncOperation, error) {
	ops, err := q.selectOps(ctx, tx, `operation_id = ?`, id)
	if err != nil {
		return models.SyncOperation{}, err
	}
	if len(ops) == 0 {
		return models.SyncOperation{}, fmt.Errorf("operation %s: %w", id, common.ErrNotFound)
	}
	return ops[0], nil
}

func (q *SQLiteQueue) saveState(ctx context.Context, tx dbx.DBTX, op models.SyncOperation) error {
	var lastAttempt sql.NullInt64
	if op.LastAttemptAt != nil {
		lastAttempt = sql.NullInt64{Int64: op.LastAttemptAt.UnixNano(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = ?, last_attempt_at = ?, last_error = ?, next_attempt_at = ?, status = ?
		WHERE operation_id = ?
	`, op.RetryCount, lastAttempt, op.LastError, unixNano(op.NextAttemptAt), op.Status, op.OperationID)
	return err
}

func (q *SQLiteQueue) selectOps(ctx context.Context, db dbx.DBTX, where string, args ...any) ([]models.SyncOperation, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+opColumns+` FROM sync_queue WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", records.Classify(err))
	}
	defer rows.Close()

	var out []models.SyncOperation
	for rows.Next() {
		var (
			op          models.SyncOperation
			createdAt   int64
			lastAttempt sql.NullInt64
			nextAttempt int64
			deps        string
		)
		if err := rows.Scan(&op.OperationID, &op.EntityKind, &op.EntityID, &op.OwnerID, &op.Action, &op.Payload,
			&createdAt, &op.RetryCount, &lastAttempt, &op.LastError, &nextAttempt, &op.Status, &deps); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", records.Classify(err))
		}
		op.CreatedAt = time.Unix(0, createdAt).UTC()
		if lastAttempt.Valid {
			at := time.Unix(0, lastAttempt.Int64).UTC()
			op.LastAttemptAt = &at
		}
		if nextAttempt != 0 {
			op.NextAttemptAt = time.Unix(0, nextAttempt).UTC()
		}
		if op.DependsOn, err = splitRefs(deps); err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.OperationID, err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", records.Classify(err))
	}
	return out, nil
}

func joinRefs(refs []models.Ref) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

func splitRefs(s string) ([]models.Ref, error) {
	var out []models.Ref
	for _, part := range strings.Fields(s) {
		r, err := models.ParseRef(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

