package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

func (m *Manager) get(ctx context.Context, kind models.Kind, id string) (Result[models.Entity], error) {
	if m.cache != nil {
		e, pending, ok, err := m.cache.Lookup(ctx, kind, id)
		if err != nil {
			m.logger.Warn(ctx, "cache lookup failed", "kind", kind, "id", id, "error", err)
		} else if ok {
			return Result[models.Entity]{Value: e, Pending: pending}, nil
		}
	}

	if rt, _ := m.route(); rt != routeRemote {
		return m.getLocal(ctx, kind, id, false)
	}

	// A local copy awaiting sync is newer than anything the server has.
	if pending, err := m.local.IsPending(ctx, kind, id); err == nil && pending {
		return m.getLocal(ctx, kind, id, false)
	}

	e, err := m.remote.Get(ctx, kind, id)
	switch {
	case err == nil:
		if _, err := m.local.Put(ctx, e); err != nil {
			m.logger.Warn(ctx, "local mirror failed", "kind", kind, "id", id, "error", err)
		}
		return Result[models.Entity]{Value: e}, nil
	case common.IsTransient(err) && m.cfg.FallbackEnabled:
		m.logger.Info(ctx, "remote read failed, serving local copy", "kind", kind, "id", id, "error", err)
		return m.getLocal(ctx, kind, id, true)
	default:
		return Result[models.Entity]{}, err
	}
}

func (m *Manager) getLocal(ctx context.Context, kind models.Kind, id string, stale bool) (Result[models.Entity], error) {
	e, err := m.local.Get(ctx, kind, id)
	if err != nil {
		return Result[models.Entity]{}, err
	}
	pending, err := m.local.IsPending(ctx, kind, id)
	if err != nil {
		return Result[models.Entity]{}, err
	}
	return Result[models.Entity]{Value: e, Pending: pending, Stale: stale}, nil
}

func (m *Manager) list(ctx context.Context, kind models.Kind) (Result[[]models.Entity], error) {
	if rt, _ := m.route(); rt != routeRemote {
		return m.listLocal(ctx, kind, false)
	}

	remote, err := m.remote.List(ctx, kind)
	if err != nil {
		if common.IsTransient(err) && m.cfg.FallbackEnabled {
			m.logger.Info(ctx, "remote list failed, serving local copies", "kind", kind, "error", err)
			return m.listLocal(ctx, kind, true)
		}
		return Result[[]models.Entity]{}, err
	}
	return m.mergePending(ctx, kind, remote)
}

func (m *Manager) listLocal(ctx context.Context, kind models.Kind, stale bool) (Result[[]models.Entity], error) {
	list, err := m.local.List(ctx, kind)
	if err != nil {
		return Result[[]models.Entity]{}, err
	}
	pending, err := m.local.ListPending(ctx, kind)
	if err != nil {
		return Result[[]models.Entity]{}, err
	}
	return Result[[]models.Entity]{Value: list, Pending: len(pending) > 0, Stale: stale}, nil
}

// mergePending overlays local writes that the server has not seen yet on a
// remote listing: pending local copies replace or extend remote records,
// and records with a queued delete are dropped. Confirmed remote records are
// mirrored locally.
func (m *Manager) mergePending(ctx context.Context, kind models.Kind, remote []models.Entity) (Result[[]models.Entity], error) {
	pending, err := m.local.ListPending(ctx, kind)
	if err != nil {
		return Result[[]models.Entity]{}, err
	}
	deleting, err := m.queuedDeletes(ctx, kind)
	if err != nil {
		return Result[[]models.Entity]{}, err
	}

	byID := make(map[string]models.Entity, len(remote)+len(pending))
	for _, e := range remote {
		id := e.Head().ID
		if deleting[id] {
			continue
		}
		byID[id] = e
	}
	local := make(map[string]bool, len(pending))
	for _, e := range pending {
		byID[e.Head().ID] = e
		local[e.Head().ID] = true
	}
	for id, e := range byID {
		if local[id] {
			continue
		}
		if _, err := m.local.Put(ctx, e); err != nil {
			m.logger.Warn(ctx, "local mirror failed", "kind", kind, "id", id, "error", err)
		}
	}

	out := make([]models.Entity, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Head(), out[j].Head()
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return Result[[]models.Entity]{Value: out, Pending: len(pending) > 0}, nil
}

// queuedDeletes returns ids of kind whose latest pending operation is a
// delete.
func (m *Manager) queuedDeletes(ctx context.Context, kind models.Kind) (map[string]bool, error) {
	ops, err := m.queue.All(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, op := range ops {
		if op.EntityKind != kind || op.Status != models.OpPending {
			continue
		}
		out[op.EntityID] = op.Action == models.ActionDelete
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
