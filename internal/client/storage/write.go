package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// save runs the write path for any kind: validate, stamp, then write
// remote-first or local-and-queue depending on policy and reachability.
func (m *Manager) save(ctx context.Context, e models.Entity) (Result[models.Entity], error) {
	if e == nil {
		return Result[models.Entity]{}, fmt.Errorf("%w: nil record", common.ErrValidation)
	}
	e = e.Clone()
	if err := e.Validate(); err != nil {
		return Result[models.Entity]{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	rt, owner := m.route()
	m.stamp(ctx, e, owner)
	h := e.Head()

	if rt == routeLocalOnly {
		saved, err := m.local.Put(ctx, e)
		if err != nil {
			return Result[models.Entity]{}, err
		}
		m.cachePut(ctx, saved)
		return Result[models.Entity]{Value: saved}, nil
	}

	queued, err := m.queue.HasPending(ctx, e.Kind(), h.ID, "")
	if err != nil {
		return Result[models.Entity]{}, err
	}
	action := models.ActionUpdate
	if models.IsTempID(h.ID) && !queued {
		action = models.ActionCreate
	}

	// Earlier writes of this record are still queued; going around them
	// would reorder writes of one record.
	if rt == routeQueued || queued {
		return m.enqueueWrite(ctx, e, action)
	}

	saved, err := m.remotePut(ctx, e)
	switch {
	case err == nil:
		m.mirror(ctx, e, saved)
		return Result[models.Entity]{Value: saved}, nil
	case common.IsTransient(err) && m.cfg.FallbackEnabled:
		m.logger.Info(ctx, "remote write deferred", "kind", e.Kind(), "id", h.ID, "error", err)
		return m.enqueueWrite(ctx, e, action)
	default:
		return Result[models.Entity]{}, err
	}
}

// stamp assigns the id, owner and a non-decreasing update time. The base
// version comes from the local copy so updates carry the last confirmed
// revision.
func (m *Manager) stamp(ctx context.Context, e models.Entity, owner string) {
	h := e.Head()
	kind := e.Kind()
	switch {
	case kind.Singleton():
		h.ID = kind.SingletonID()
	case h.ID == "":
		h.ID = models.NewTempID(kind)
	}
	h.OwnerID = owner
	h.Deleted = false

	now := m.now().UTC()
	prev, err := m.local.Get(ctx, kind, h.ID)
	switch {
	case err == nil:
		if !now.After(prev.Head().UpdatedAt) {
			now = prev.Head().UpdatedAt.Add(time.Nanosecond)
		}
		h.Version = prev.Head().Version
	case !errors.Is(err, common.ErrNotFound):
		m.logger.Debug(ctx, "no local base for write", "kind", kind, "id", h.ID, "error", err)
	}
	h.UpdatedAt = now
}

func (m *Manager) enqueueWrite(ctx context.Context, e models.Entity, action models.Action) (Result[models.Entity], error) {
	payload, err := codec.EncodePayload(e)
	if err != nil {
		return Result[models.Entity]{}, err
	}
	if err := m.local.PutPending(ctx, e); err != nil {
		return Result[models.Entity]{}, err
	}
	op := models.SyncOperation{
		EntityKind: e.Kind(),
		EntityID:   e.Head().ID,
		OwnerID:    e.Head().OwnerID,
		Action:     action,
		Payload:    payload,
		DependsOn:  unconfirmedRefs(e),
	}
	if _, err := m.queue.Enqueue(ctx, op); err != nil {
		return Result[models.Entity]{}, err
	}
	m.cachePending(ctx, e)
	return Result[models.Entity]{Value: e.Clone(), Pending: true}, nil
}

// unconfirmedRefs lists references still pointing at temporary ids; their
// creates must reach the server first.
func unconfirmedRefs(e models.Entity) []models.Ref {
	var deps []models.Ref
	seen := map[models.Ref]bool{}
	for _, ref := range e.References() {
		if models.IsTempID(ref.ID) && !seen[ref] {
			seen[ref] = true
			deps = append(deps, ref)
		}
	}
	return deps
}

// remotePut writes e remotely. A version conflict is resolved once by last
// write wins on UpdatedAt: when the local write is not older than the
// remote copy it is retried on the refreshed version.
func (m *Manager) remotePut(ctx context.Context, e models.Entity) (models.Entity, error) {
	saved, err := m.remote.Put(ctx, e)
	if !errors.Is(err, common.ErrConflict) {
		return saved, err
	}

	current, gerr := m.origin.Get(ctx, e.Kind(), e.Head().ID)
	if gerr != nil {
		if common.IsTransient(gerr) {
			return nil, gerr
		}
		return nil, err
	}
	if e.Head().UpdatedAt.Before(current.Head().UpdatedAt) {
		m.cachePut(ctx, current)
		return nil, &ConflictError{Local: e, Remote: current}
	}

	retry := e.Clone()
	retry.Head().Version = current.Head().Version
	saved, err = m.remote.Put(ctx, retry)
	if errors.Is(err, common.ErrConflict) {
		return nil, &ConflictError{Local: e, Remote: current}
	}
	return saved, err
}

// mirror copies a remotely confirmed record into the local store. A create
// that was answered with a server id replaces the temporary local record.
func (m *Manager) mirror(ctx context.Context, sent, saved models.Entity) {
	var err error
	if oldID := sent.Head().ID; oldID != saved.Head().ID {
		err = m.local.Remap(ctx, sent.Kind(), oldID, saved, false)
		if err == nil {
			_, err = m.local.Put(ctx, saved)
		}
		m.cacheForget(ctx, sent.Kind(), oldID)
	} else {
		_, err = m.local.Put(ctx, saved)
	}
	if err != nil {
		m.logger.Warn(ctx, "local mirror failed", "kind", saved.Kind(), "id", saved.Head().ID, "error", err)
	}
}

// remove runs the delete path.
func (m *Manager) remove(ctx context.Context, kind models.Kind, id string) (Result[struct{}], error) {
	if id == "" {
		return Result[struct{}]{}, fmt.Errorf("%w: empty id", common.ErrValidation)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	rt, owner := m.route()
	if rt == routeLocalOnly {
		if err := m.local.Delete(ctx, kind, id); err != nil {
			return Result[struct{}]{}, err
		}
		m.cacheForget(ctx, kind, id)
		return Result[struct{}]{}, nil
	}

	queued, err := m.queue.HasPending(ctx, kind, id, "")
	if err != nil {
		return Result[struct{}]{}, err
	}
	if rt == routeQueued || queued {
		return m.enqueueDelete(ctx, kind, id, owner)
	}

	err = m.remote.Delete(ctx, kind, id)
	switch {
	case err == nil || errors.Is(err, common.ErrNotFound):
		if err := m.local.Delete(ctx, kind, id); err != nil {
			m.logger.Warn(ctx, "local mirror failed", "kind", kind, "id", id, "error", err)
		}
		m.cacheForget(ctx, kind, id)
		return Result[struct{}]{}, nil
	case common.IsTransient(err) && m.cfg.FallbackEnabled:
		m.logger.Info(ctx, "remote delete deferred", "kind", kind, "id", id, "error", err)
		return m.enqueueDelete(ctx, kind, id, owner)
	default:
		return Result[struct{}]{}, err
	}
}

func (m *Manager) enqueueDelete(ctx context.Context, kind models.Kind, id, owner string) (Result[struct{}], error) {
	if err := m.local.Delete(ctx, kind, id); err != nil {
		return Result[struct{}]{}, err
	}
	op := models.SyncOperation{EntityKind: kind, EntityID: id, OwnerID: owner, Action: models.ActionDelete}
	if _, err := m.queue.Enqueue(ctx, op); err != nil {
		return Result[struct{}]{}, err
	}
	m.cacheForget(ctx, kind, id)
	return Result[struct{}]{Pending: true}, nil
}
