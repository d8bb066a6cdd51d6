// Package dbx holds the database helpers shared by the record stores: the
// DBTX interface satisfied by *sql.DB, *sql.Conn and *sql.Tx, and
// transaction runners with optional retry.
package dbx

import (
	"context"
	"database/sql"
	"time"

	"github.com/sethvargo/go-retry"
)

// DBTX is the subset of database/sql the stores use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner starts transactions. *sql.DB and *sql.Conn satisfy it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE records ...")
//	    return err
//	})
func WithTx(ctx context.Context, db Beginner, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// RetryPolicy bounds WithTxRetry. Attempts counts every run including the
// first one; values below 1 mean a single run.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// WithTxRetry runs WithTx again, with exponential backoff, while the
// transaction fails with an error retryable accepts. The last error is
// returned unchanged.
func WithTxRetry(ctx context.Context, db Beginner, opts *sql.TxOptions, p RetryPolicy, retryable func(error) bool,
	fn func(ctx context.Context, tx DBTX) error) error {
	if p.Attempts <= 1 {
		return WithTx(ctx, db, opts, fn)
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.WithMaxRetries(uint64(p.Attempts-1), retry.NewExponential(base))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := WithTx(ctx, db, opts, fn)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
