package cache

import (
	"context"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Hold reports whether a record has local changes the backend has not seen.
// Backend copies of held records are not cached, since they would shadow
// the newer local value.
type Hold func(ctx context.Context, kind models.Kind, id string) bool

// Adapter decorates a backend with the cache. Reads consult the cache
// first; writes reach the cache only after the backend confirmed them.
// Cache failures are logged and never fail the call.
type Adapter struct {
	store  *Store
	next   backend.Adapter
	logger logging.Logger
	hold   Hold
}

func Wrap(store *Store, next backend.Adapter, logger logging.Logger) *Adapter {
	return &Adapter{store: store, next: next, logger: logger.With("module", "cache")}
}

// SetHold installs the predicate consulted before caching a backend copy.
func (a *Adapter) SetHold(h Hold) { a.hold = h }

func (a *Adapter) Name() backend.Name { return a.next.Name() }

func (a *Adapter) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	if e, _, ok, err := a.store.Lookup(ctx, kind, id); err != nil {
		a.logger.Warn(ctx, "cache lookup failed", "kind", kind, "id", id, "error", err)
	} else if ok {
		return e, nil
	}
	e, err := a.next.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	a.remember(ctx, e)
	return e, nil
}

func (a *Adapter) List(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	list, err := a.next.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		a.remember(ctx, e)
	}
	return list, nil
}

func (a *Adapter) Put(ctx context.Context, e models.Entity) (models.Entity, error) {
	saved, err := a.next.Put(ctx, e)
	if err != nil {
		return nil, err
	}
	if saved.Head().ID != e.Head().ID {
		a.forget(ctx, e.Kind(), e.Head().ID)
	}
	a.remember(ctx, saved)
	return saved, nil
}

func (a *Adapter) Delete(ctx context.Context, kind models.Kind, id string) error {
	if err := a.next.Delete(ctx, kind, id); err != nil {
		return err
	}
	a.forget(ctx, kind, id)
	return nil
}

func (a *Adapter) remember(ctx context.Context, e models.Entity) {
	if a.hold != nil && a.hold(ctx, e.Kind(), e.Head().ID) {
		return
	}
	if err := a.store.Put(ctx, e); err != nil {
		a.logger.Warn(ctx, "cache write failed", "kind", e.Kind(), "id", e.Head().ID, "error", err)
	}
}

func (a *Adapter) forget(ctx context.Context, kind models.Kind, id string) {
	if err := a.store.Invalidate(ctx, kind, id); err != nil {
		a.logger.Warn(ctx, "cache invalidate failed", "kind", kind, "id", id, "error", err)
	}
}

// RemoteAdapter is Adapter over a remote backend. Incremental pulls refresh
// the entries they touch.
type RemoteAdapter struct {
	*Adapter
	remote backend.RemoteAdapter
}

func WrapRemote(store *Store, next backend.RemoteAdapter, logger logging.Logger) *RemoteAdapter {
	return &RemoteAdapter{Adapter: Wrap(store, next, logger), remote: next}
}

func (a *RemoteAdapter) ListSince(ctx context.Context, kind models.Kind, since time.Time) ([]models.Entity, time.Time, error) {
	list, watermark, err := a.remote.ListSince(ctx, kind, since)
	if err != nil {
		return nil, time.Time{}, err
	}
	for _, e := range list {
		if e.Head().Deleted {
			a.forget(ctx, e.Kind(), e.Head().ID)
			continue
		}
		a.remember(ctx, e)
	}
	return list, watermark, nil
}

func (a *RemoteAdapter) Ping(ctx context.Context) error {
	return a.remote.Ping(ctx)
}

var (
	_ backend.Adapter       = (*Adapter)(nil)
	_ backend.RemoteAdapter = (*RemoteAdapter)(nil)
)
