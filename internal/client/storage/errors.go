package storage

import (
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// ConflictError is a remote conflict that survived one refresh-and-retry,
// or a write that lost last-write-wins against a newer remote copy. The
// local write is kept in Local; Remote is the copy that won.
type ConflictError struct {
	Local  models.Entity
	Remote models.Entity
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: remote updated at %s, local at %s",
		e.Local.Kind(), e.Local.Head().ID,
		e.Remote.Head().UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		e.Local.Head().UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"))
}

func (e *ConflictError) Unwrap() error { return common.ErrConflict }
