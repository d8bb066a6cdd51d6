package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	return dbx.Migrate(ctx, db, goose.DialectSQLite3, migrations.Migrations, logger)
}

// InitDatabase opens the client SQLite database at dsn and migrates it.
// The pool is limited to one connection: SQLite serializes writers anyway,
// and an in-memory database only exists on the connection that created it.
// A nil logger discards migration output.
func InitDatabase(ctx context.Context, dsn string, logger logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}
