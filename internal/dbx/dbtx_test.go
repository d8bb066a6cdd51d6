package dbx

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var errBusy = errors.New("busy")

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dbx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE records (id TEXT PRIMARY KEY, data TEXT)`)
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n))
	return n
}

func insert(ctx context.Context, tx DBTX) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records(id, data) VALUES ('p1', '{}')`)
	return err
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, WithTx(context.Background(), db, nil, insert))
	require.Equal(t, 1, countRows(t, db), "must commit on success")
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert(ctx, tx))
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 0, countRows(t, db), "must rollback when fn returns error")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countRows(t, db), "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert(ctx, tx))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err, "begin should fail when DB is closed")
}

func TestWithTx_OnConn(t *testing.T) {
	db := setupDB(t)
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WithTx(context.Background(), conn, nil, insert))
	require.Equal(t, 1, countRows(t, db))
}

func TestWithTxRetry(t *testing.T) {
	isBusy := func(err error) bool { return errors.Is(err, errBusy) }
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Microsecond}

	tests := []struct {
		name      string
		failures  int
		failWith  error
		policy    RetryPolicy
		wantRuns  int
		wantErrIs error
	}{
		{name: "first run succeeds", policy: policy, wantRuns: 1},
		{name: "retried until success", failures: 2, failWith: errBusy, policy: policy, wantRuns: 3},
		{name: "gives up after attempts", failures: 5, failWith: errBusy, policy: policy, wantRuns: 3, wantErrIs: errBusy},
		{name: "other errors are not retried", failures: 5, failWith: sql.ErrConnDone, policy: policy, wantRuns: 1, wantErrIs: sql.ErrConnDone},
		{name: "zero policy runs once", failures: 5, failWith: errBusy, wantRuns: 1, wantErrIs: errBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			for i := 0; i < tt.wantRuns; i++ {
				mock.ExpectBegin()
				if i < tt.failures {
					mock.ExpectRollback()
				} else {
					mock.ExpectCommit()
				}
			}

			runs := 0
			err = WithTxRetry(context.Background(), db, nil, tt.policy, isBusy, func(ctx context.Context, tx DBTX) error {
				runs++
				if runs <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			assert.Equal(t, tt.wantRuns, runs)
			if tt.wantErrIs == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
