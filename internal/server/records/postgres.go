package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/dmitrijs2005/coachkeeper/internal/server/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const recordColumns = `owner_id, kind, id, client_ref, version, updated_at, server_updated_at, deleted, data`

type PostgresStore struct {
	db    *sql.DB
	retry dbx.RetryPolicy
}

// OpenPostgres connects to dsn through the pgx driver and applies the
// embedded migrations, reporting them to logger.
func OpenPostgres(ctx context.Context, dsn string, logger logging.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return NewPostgresStore(db), nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	return dbx.Migrate(ctx, db, goose.DialectPostgres, migrations.Migrations, logger)
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, retry: dbx.RetryPolicy{Attempts: 3, BaseDelay: 20 * time.Millisecond}}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, owner string, kind models.Kind, id string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		 WHERE owner_id = $1 AND kind = $2 AND id = $3`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, owner, kind, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
		}
		return Record{}, classify(err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, owner string, kind models.Kind) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		 WHERE owner_id = $1 AND kind = $2 AND NOT deleted
		 ORDER BY updated_at, id`
	return s.query(ctx, query, owner, kind)
}

func (s *PostgresStore) ListSince(ctx context.Context, owner string, kind models.Kind, since time.Time) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		 WHERE owner_id = $1 AND kind = $2 AND server_updated_at > $3
		 ORDER BY server_updated_at, id`
	return s.query(ctx, query, owner, kind, since.UTC())
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	data, err := encodeData(rec.Entity)
	if err != nil {
		return Record{}, err
	}
	h := rec.Entity.Head()

	var out Record
	err = dbx.WithTxRetry(ctx, s.db, nil, s.retry, retryable, func(ctx context.Context, tx dbx.DBTX) error {
		query := `INSERT INTO records (` + recordColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		 ON CONFLICT DO NOTHING
		 RETURNING ` + recordColumns

		out, err = scanRecord(tx.QueryRowContext(ctx, query,
			rec.OwnerID, rec.Kind(), h.ID, nullString(rec.ClientRef), h.Version,
			h.UpdatedAt.UTC(), rec.ServerUpdatedAt.UTC(), data))
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if rec.ClientRef == "" {
			return fmt.Errorf("%s %s already exists: %w", rec.Kind(), h.ID, common.ErrConflict)
		}
		query = `SELECT ` + recordColumns + ` FROM records
		 WHERE owner_id = $1 AND kind = $2 AND client_ref = $3`
		out, err = scanRecord(tx.QueryRowContext(ctx, query, rec.OwnerID, rec.Kind(), rec.ClientRef))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s already exists: %w", rec.Kind(), h.ID, common.ErrConflict)
		}
		return err
	})
	if err != nil {
		return Record{}, classify(err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) (Record, error) {
	data, err := encodeData(rec.Entity)
	if err != nil {
		return Record{}, err
	}
	h := rec.Entity.Head()

	var out Record
	err = dbx.WithTxRetry(ctx, s.db, nil, s.retry, retryable, func(ctx context.Context, tx dbx.DBTX) error {
		query := `UPDATE records
		 SET version = version + 1, updated_at = $5, server_updated_at = $6, deleted = FALSE, data = $7
		 WHERE owner_id = $1 AND kind = $2 AND id = $3 AND version = $4
		 RETURNING ` + recordColumns

		out, err = scanRecord(tx.QueryRowContext(ctx, query,
			rec.OwnerID, rec.Kind(), h.ID, h.Version,
			h.UpdatedAt.UTC(), rec.ServerUpdatedAt.UTC(), data))
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var current int64
		query = `SELECT version FROM records WHERE owner_id = $1 AND kind = $2 AND id = $3`
		err = tx.QueryRowContext(ctx, query, rec.OwnerID, rec.Kind(), h.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", rec.Kind(), h.ID, common.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%s %s at version %d, got %d: %w", rec.Kind(), h.ID, current, h.Version, common.ErrConflict)
	})
	if err != nil {
		return Record{}, classify(err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, owner string, kind models.Kind, id string, at time.Time) error {
	query := `UPDATE records
		 SET deleted = TRUE, version = version + 1, server_updated_at = $4
		 WHERE owner_id = $1 AND kind = $2 AND id = $3 AND NOT deleted`

	res, err := s.db.ExecContext(ctx, query, owner, kind, id, at.UTC())
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n > 0 {
		return nil
	}

	var deleted bool
	query = `SELECT deleted FROM records WHERE owner_id = $1 AND kind = $2 AND id = $3`
	err = s.db.QueryRowContext(ctx, query, owner, kind, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec       Record
		kind      string
		id        string
		clientRef sql.NullString
		version   int64
		updatedAt time.Time
		deleted   bool
		data      []byte
	)
	err := sc.Scan(&rec.OwnerID, &kind, &id, &clientRef, &version, &updatedAt, &rec.ServerUpdatedAt, &deleted, &data)
	if err != nil {
		return Record{}, err
	}

	var row codec.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return Record{}, fmt.Errorf("%w: %s %s data: %v", common.ErrCodec, kind, id, err)
	}
	e, err := codec.FromRow(models.Kind(kind), row)
	if err != nil {
		return Record{}, err
	}
	h := e.Head()
	h.ID = id
	h.OwnerID = rec.OwnerID
	h.UpdatedAt = updatedAt.UTC()
	h.Version = version
	h.Deleted = deleted

	rec.ClientRef = clientRef.String
	rec.ServerUpdatedAt = rec.ServerUpdatedAt.UTC()
	rec.Entity = e
	return rec, nil
}

func encodeData(e models.Entity) ([]byte, error) {
	row, err := codec.ToRow(e)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classify maps Postgres failures onto the shared error kinds. Lock and
// serialization failures are worth retrying; a unique violation means a
// concurrent writer got there first.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrCodec) {
			return err
		}
		return fmt.Errorf("db error: %w", err)
	}
	switch pgErr.SQLState() {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("db error: %w: %v", common.ErrUnavailable, err)
	case "23505":
		return fmt.Errorf("db error: %w: %v", common.ErrConflict, err)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

// retryable reports serialization and lock failures; the transaction is run
// again for those.
func retryable(err error) bool {
	return errors.Is(classify(err), common.ErrUnavailable)
}
