// Package cache is the ephemeral read/write-through cache in front of a
// storage backend. Entries carry a TTL and a schema version tag; stale
// entries are ignored on read and evicted by Cleanup, which RunCleanup
// repeats in the background. Each kind has its own byte budget, enforced by
// least-recently-used eviction.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SchemaVersion tags every entry. Entries written by a build with a
// different version are treated as stale.
const SchemaVersion = 1

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Entry struct {
	Kind          models.Kind
	Key           string
	Value         []byte
	StoredAt      time.Time
	TTL           time.Duration
	SchemaVersion int
	Pending       bool
	Size          int
	LastAccess    time.Time
}

func (e Entry) Stale(now time.Time) bool {
	return e.SchemaVersion != SchemaVersion || now.After(e.StoredAt.Add(e.TTL))
}

type Options struct {
	TTL time.Duration
	// BudgetBytes caps the summed value size per kind. Zero disables it.
	BudgetBytes int64
	// Logger receives schema migration output. Nil discards it.
	Logger logging.Logger
}

type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	opts Options
	now  func() time.Time
}

// Open opens the cache database at path, or an in-memory one when path is
// empty, and applies its schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbx.Migrate(ctx, db, goose.DialectSQLite3, sub, opts.Logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate cache: %w", err)
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &Store{db: db, opts: opts, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the fresh cached copy of (kind, id). ok is false on a miss,
// on a stale entry and on an entry that no longer decodes.
func (s *Store) Lookup(ctx context.Context, kind models.Kind, id string) (e models.Entity, pending, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found, err := s.entry(ctx, s.db, kind, id)
	if err != nil || !found {
		return nil, false, false, err
	}
	now := s.now()
	if entry.Stale(now) {
		return nil, false, false, nil
	}
	doc, err := codec.UnmarshalCBOR(entry.Value)
	if err == nil {
		e, err = codec.FromDocument(doc)
	}
	if err != nil {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ? AND key = ?`, kind, id)
		return nil, false, false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_access = ? WHERE kind = ? AND key = ?`,
		now.UnixNano(), kind, id); err != nil {
		return nil, false, false, fmt.Errorf("failed to touch cache entry: %w", records.Classify(err))
	}
	return e, entry.Pending, true, nil
}

// Put caches a value confirmed by the backing store.
func (s *Store) Put(ctx context.Context, e models.Entity) error {
	return s.put(ctx, e, false)
}

// PutPending caches a value that is only queued, not yet confirmed.
func (s *Store) PutPending(ctx context.Context, e models.Entity) error {
	return s.put(ctx, e, true)
}

func (s *Store) put(ctx context.Context, e models.Entity, pending bool) error {
	doc, err := codec.ToDocument(e)
	if err != nil {
		return err
	}
	value, err := codec.MarshalCBOR(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixNano()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (kind, key, value, stored_at, ttl, schema_version, pending, size, last_access)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(kind, key) DO UPDATE SET
				value = excluded.value, stored_at = excluded.stored_at, ttl = excluded.ttl,
				schema_version = excluded.schema_version, pending = excluded.pending,
				size = excluded.size, last_access = excluded.last_access
		`, doc.Kind, doc.ID, value, now, int64(s.opts.TTL), SchemaVersion, pending, len(value), now)
		if err != nil {
			return err
		}
		return s.evict(ctx, tx, doc.Kind, doc.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to cache %s %s: %w", doc.Kind, doc.ID, records.Classify(err))
	}
	return nil
}

// evict drops least-recently-used entries of kind until its budget holds.
// Pending entries go last; the entry just written is never evicted.
func (s *Store) evict(ctx context.Context, tx dbx.DBTX, kind models.Kind, keep string) error {
	if s.opts.BudgetBytes <= 0 {
		return nil
	}
	var used int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM cache_entries WHERE kind = ?`, kind).Scan(&used); err != nil {
		return err
	}
	if used <= s.opts.BudgetBytes {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT key, size FROM cache_entries
		WHERE kind = ? AND key <> ?
		ORDER BY pending, last_access, key
	`, kind, keep)
	if err != nil {
		return err
	}
	var victims []string
	for rows.Next() && used > s.opts.BudgetBytes {
		var (
			key  string
			size int64
		)
		if err := rows.Scan(&key, &size); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, key)
		used -= size
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, key := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ? AND key = ?`, kind, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, kind models.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ? AND key = ?`, kind, id); err != nil {
		return fmt.Errorf("failed to invalidate %s %s: %w", kind, id, records.Classify(err))
	}
	return nil
}

func (s *Store) InvalidateKind(ctx context.Context, kind models.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", kind, records.Classify(err))
	}
	return nil
}

// Cleanup evicts expired and foreign-version entries and returns how many
// were removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE schema_version <> ? OR stored_at + ttl < ?`,
		SchemaVersion, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to clean cache: %w", records.Classify(err))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RunCleanup calls Cleanup every interval until ctx is done. A zero
// interval means the entry TTL. Failed passes are logged and retried on the
// next tick.
func (s *Store) RunCleanup(ctx context.Context, every time.Duration, logger logging.Logger) error {
	if every <= 0 {
		every = s.opts.TTL
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				logger.Warn(ctx, "cache cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug(ctx, "stale cache entries evicted", "count", n)
			}
		}
	}
}

// Entries lists the raw entries of kind, stale ones included.
func (s *Store) Entries(ctx context.Context, kind models.Kind) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, key, value, stored_at, ttl, schema_version, pending, size, last_access
		FROM cache_entries WHERE kind = ? ORDER BY key
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", records.Classify(err))
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) entry(ctx context.Context, db dbx.DBTX, kind models.Kind, id string) (Entry, bool, error) {
	row := db.QueryRowContext(ctx, `
		SELECT kind, key, value, stored_at, ttl, schema_version, pending, size, last_access
		FROM cache_entries WHERE kind = ? AND key = ?
	`, kind, id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", records.Classify(err))
	}
	return e, true, nil
}

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var (
		e                         Entry
		storedAt, ttl, lastAccess int64
	)
	if err := scan(&e.Kind, &e.Key, &e.Value, &storedAt, &ttl, &e.SchemaVersion, &e.Pending, &e.Size, &lastAccess); err != nil {
		return Entry{}, err
	}
	e.StoredAt = time.Unix(0, storedAt)
	e.TTL = time.Duration(ttl)
	e.LastAccess = time.Unix(0, lastAccess)
	return e, nil
}
