package records

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"modernc.org/sqlite"
)

// Primary SQLite result codes (extended codes keep these in the low byte).
const (
	sqliteCorrupt  = 11
	sqliteFull     = 13
	sqliteCantOpen = 14
	sqliteReadOnly = 8
	sqliteIOErr    = 10
	sqliteNotADB   = 26
)

// Classify maps driver failures onto the storage error taxonomy. Errors that
// already carry a taxonomy sentinel pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{common.ErrCapacity, common.ErrUnavailable, common.ErrCodec, common.ErrNotFound} {
		if errors.Is(err, known) {
			return err
		}
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqliteFull:
			return fmt.Errorf("%w: %w", common.ErrCapacity, err)
		case sqliteCantOpen, sqliteReadOnly, sqliteIOErr, sqliteNotADB, sqliteCorrupt:
			return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}
	return err
}
