package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"

	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/pressly/goose/v3"
)

// Migrate applies the goose migrations in fsys to db. Applied migrations are
// reported through logger at debug level; a nil logger discards them.
// Migrations already applied are skipped, so calling Migrate again is a no-op.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug(ctx, "migration applied",
			"version", r.Source.Version,
			"file", path.Base(r.Source.Path),
			"duration", r.Duration)
	}
	return nil
}
