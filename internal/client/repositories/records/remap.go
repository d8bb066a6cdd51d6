package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Remap moves the record (kind, oldID) to saved's server-assigned id and
// rewrites every reference to oldID held by other records, in one
// transaction. keepPending tells whether later local edits of the record are
// still queued; the local content then wins over saved and stays pending.
//
// Remap is idempotent: when oldID is already gone only the reference
// rewrite runs, which is a no-op the second time.
func (s *SQLiteStore) Remap(ctx context.Context, kind models.Kind, oldID string, saved models.Entity, keepPending bool) error {
	newID := saved.Head().ID

	s.mu.Lock()
	defer s.mu.Unlock()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM records WHERE kind = ? AND id = ?`, kind, oldID)
		local, err := scanEntity(kind, row.Scan)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			local = nil
		case err != nil:
			return err
		}

		if local != nil {
			next, pending := saved, false
			if keepPending {
				next = local.Clone()
				next.Head().ID = newID
				next.Head().Version = saved.Head().Version
				pending = true
			}
			doc, err := codec.ToDocument(next)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, oldID); err != nil {
				return err
			}
			if err := upsert(ctx, tx, doc, pending); err != nil {
				return err
			}
		}

		mapping := models.IdentityMapping{}
		mapping.Add(kind, oldID, newID)
		_, err = rewriteReferences(ctx, tx, mapping)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remap %s %s -> %s: %w", kind, oldID, newID, Classify(err))
	}
	return nil
}

// RewriteReferences applies mapping to every stored record and returns how
// many records changed. Content timestamps are left untouched: a reference
// rewrite is not a user edit.
func (s *SQLiteStore) RewriteReferences(ctx context.Context, mapping models.IdentityMapping) (int, error) {
	if mapping.Len() == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = rewriteReferences(ctx, tx, mapping)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite references: %w", Classify(err))
	}
	return n, nil
}

type storedRow struct {
	entity  models.Entity
	pending bool
}

func rewriteReferences(ctx context.Context, tx dbx.DBTX, mapping models.IdentityMapping) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT kind, `+selectColumns+`, pending FROM records`)
	if err != nil {
		return 0, err
	}

	var changed []storedRow
	for rows.Next() {
		var (
			kind      models.Kind
			doc       codec.Document
			updatedAt int64
			body      []byte
			pending   bool
		)
		if err := rows.Scan(&kind, &doc.ID, &doc.OwnerID, &updatedAt, &doc.Version, &body, &pending); err != nil {
			rows.Close()
			return 0, err
		}
		doc.Kind = kind
		doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
		doc.Body = body
		e, err := codec.FromDocument(doc)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if mapping.Apply(e) {
			changed = append(changed, storedRow{entity: e, pending: pending})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, r := range changed {
		doc, err := codec.ToDocument(r.entity)
		if err != nil {
			return 0, err
		}
		if err := upsert(ctx, tx, doc, r.pending); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}
