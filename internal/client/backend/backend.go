// Package backend defines the contract every storage backend adapter
// implements. Adapters translate and classify errors; they never retry,
// queue or resolve conflicts.
package backend

import (
	"context"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Name identifies a backend in configuration and logs.
type Name string

const (
	Local  Name = "local"
	Remote Name = "remote"
	Cache  Name = "cache"
)

func ParseName(s string) (Name, bool) {
	switch Name(s) {
	case Local, Remote:
		return Name(s), true
	}
	return "", false
}

// Adapter is the uniform record CRUD surface.
//
// Get returns common.ErrNotFound for a missing record. Put returns the
// record as stored; its ID differs from the input when the backend assigned
// a new identifier.
type Adapter interface {
	Name() Name
	Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error)
	List(ctx context.Context, kind models.Kind) ([]models.Entity, error)
	Put(ctx context.Context, e models.Entity) (models.Entity, error)
	Delete(ctx context.Context, kind models.Kind, id string) error
}

// RemoteAdapter adds what only the remote store offers.
type RemoteAdapter interface {
	Adapter
	// ListSince returns records of kind modified on the server after since,
	// tombstones included. The returned watermark is the newest server
	// modification time seen.
	ListSince(ctx context.Context, kind models.Kind, since time.Time) ([]models.Entity, time.Time, error)
	Ping(ctx context.Context) error
}
