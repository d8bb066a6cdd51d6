// Package records implements the durable local store: every record kind in
// one SQLite table, each row holding the record's JSON document plus the
// columns needed for lookup and sync bookkeeping.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// SQLiteStore is safe for concurrent use; all methods are serialized.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
	// quota caps the summed document size in bytes; 0 disables the check.
	quota int64
}

func NewSQLiteStore(db *sql.DB, quotaBytes int64) *SQLiteStore {
	return &SQLiteStore{db: db, quota: quotaBytes}
}

func (s *SQLiteStore) Name() backend.Name { return backend.Local }

const selectColumns = `id, owner_id, updated_at, version, body`

func (s *SQLiteStore) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM records WHERE kind = ? AND id = ?`, kind, id)
	e, err := scanEntity(kind, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, Classify(err))
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx, s.db, kind, false)
}

// ListPending returns records of kind written locally but not yet confirmed
// by the remote store.
func (s *SQLiteStore) ListPending(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx, s.db, kind, true)
}

func (s *SQLiteStore) list(ctx context.Context, db dbx.DBTX, kind models.Kind, pendingOnly bool) ([]models.Entity, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE kind = ?`
	if pendingOnly {
		query += ` AND pending = 1`
	}
	query += ` ORDER BY updated_at, id`

	rows, err := db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, Classify(err))
	}
	defer rows.Close()

	result := []models.Entity{}
	for rows.Next() {
		e, err := scanEntity(kind, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", kind, Classify(err))
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", kind, Classify(err))
	}
	return result, nil
}

// Put upserts e as confirmed (not pending).
func (s *SQLiteStore) Put(ctx context.Context, e models.Entity) (models.Entity, error) {
	if err := s.put(ctx, e, false); err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// PutPending upserts e and flags it as awaiting remote confirmation.
func (s *SQLiteStore) PutPending(ctx context.Context, e models.Entity) error {
	return s.put(ctx, e, true)
}

func (s *SQLiteStore) put(ctx context.Context, e models.Entity, pending bool) error {
	doc, err := codec.ToDocument(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.checkQuota(ctx, tx, doc); err != nil {
			return err
		}
		return upsert(ctx, tx, doc, pending)
	})
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", doc.Kind, doc.ID, Classify(err))
	}
	return nil
}

func (s *SQLiteStore) checkQuota(ctx context.Context, tx dbx.DBTX, doc codec.Document) error {
	if s.quota <= 0 {
		return nil
	}
	var used int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(length(body)), 0) FROM records WHERE NOT (kind = ? AND id = ?)`,
		doc.Kind, doc.ID).Scan(&used)
	if err != nil {
		return err
	}
	if used+int64(len(doc.Body)) > s.quota {
		return fmt.Errorf("%w: %d of %d bytes used", common.ErrCapacity, used, s.quota)
	}
	return nil
}

func upsert(ctx context.Context, tx dbx.DBTX, doc codec.Document, pending bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO records (kind, id, owner_id, updated_at, version, pending, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			owner_id = excluded.owner_id,
			updated_at = excluded.updated_at,
			version = excluded.version,
			pending = excluded.pending,
			body = excluded.body
	`, doc.Kind, doc.ID, doc.OwnerID, doc.UpdatedAt.UnixNano(), doc.Version, pending, []byte(doc.Body))
	return err
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, kind models.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, Classify(err))
	}
	return nil
}

func (s *SQLiteStore) IsPending(ctx context.Context, kind models.Kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending bool
	err := s.db.QueryRowContext(ctx, `SELECT pending FROM records WHERE kind = ? AND id = ?`, kind, id).Scan(&pending)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pending flag of %s %s: %w", kind, id, Classify(err))
	}
	return pending, nil
}

// Version returns the last server revision recorded for a record, 0 if unknown.
func (s *SQLiteStore) Version(ctx context.Context, kind models.Kind, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM records WHERE kind = ? AND id = ?`, kind, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version of %s %s: %w", kind, id, Classify(err))
	}
	return v, nil
}

// SetVersion records a confirmed server revision without touching content.
func (s *SQLiteStore) SetVersion(ctx context.Context, kind models.Kind, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE records SET version = ? WHERE kind = ? AND id = ?`, version, kind, id); err != nil {
		return fmt.Errorf("failed to set version of %s %s: %w", kind, id, Classify(err))
	}
	return nil
}

// UsedBytes reports the summed document size.
func (s *SQLiteStore) UsedBytes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var used int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(body)), 0) FROM records`).Scan(&used); err != nil {
		return 0, Classify(err)
	}
	return used, nil
}

func scanEntity(kind models.Kind, scan func(dest ...any) error) (models.Entity, error) {
	var (
		doc       = codec.Document{Kind: kind}
		updatedAt int64
		body      []byte
	)
	if err := scan(&doc.ID, &doc.OwnerID, &updatedAt, &doc.Version, &body); err != nil {
		return nil, err
	}
	doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	doc.Body = body
	return codec.FromDocument(doc)
}
