// Package records implements the server side of the record service: create,
// update and delete semantics over an owner-scoped store, plus incremental
// change listing for pulls.
package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Record is one stored entity with its server bookkeeping.
type Record struct {
	OwnerID string
	// ClientRef is the temporary id the record was created under, if any.
	ClientRef       string
	ServerUpdatedAt time.Time
	Entity          models.Entity
}

func (r Record) Kind() models.Kind { return r.Entity.Kind() }
func (r Record) ID() string        { return r.Entity.Head().ID }

// Store persists records. Implementations never interpret entity bodies.
//
// Create inserts rec and returns the stored record. When rec carries a
// ClientRef already used by the owner for the kind, the earlier record is
// returned instead. A clash on the id itself is ErrConflict.
//
// Update replaces the record when its stored version equals the version on
// rec.Entity, bumping the version by one. A mismatch is ErrConflict, a
// missing record ErrNotFound.
//
// Delete marks the record deleted. Deleting a tombstone succeeds; deleting
// an unknown id is ErrNotFound.
type Store interface {
	Get(ctx context.Context, owner string, kind models.Kind, id string) (Record, error)
	List(ctx context.Context, owner string, kind models.Kind) ([]Record, error)
	ListSince(ctx context.Context, owner string, kind models.Kind, since time.Time) ([]Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	Delete(ctx context.Context, owner string, kind models.Kind, id string, at time.Time) error
	Close() error
}
