package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// ReplayResult describes one confirmed queued operation. Mapping holds the
// temporary-to-server id pair when a create was confirmed under a new id.
type ReplayResult struct {
	Saved   models.Entity
	Mapping models.IdentityMapping
}

// Replay applies one queued operation to the remote store and, on success,
// brings the local store and cache in line with the confirmed result. The
// caller removes the operation from the queue afterwards. Replaying an
// operation that was already applied changes nothing: creates are
// deduplicated by the server and deletes of missing records succeed.
func (m *Manager) Replay(ctx context.Context, op models.SyncOperation) (ReplayResult, error) {
	if m.remote == nil {
		return ReplayResult{}, fmt.Errorf("replay %s: no remote store: %w", op.OperationID, common.ErrUnavailable)
	}

	if op.Action == models.ActionDelete {
		err := m.remote.Delete(ctx, op.EntityKind, op.EntityID)
		if err != nil && !isNotFound(err) {
			return ReplayResult{}, err
		}
		return ReplayResult{}, nil
	}

	e, err := codec.DecodePayload(op.Payload)
	if err != nil {
		return ReplayResult{}, err
	}
	if e.Kind() != op.EntityKind {
		return ReplayResult{}, fmt.Errorf("%w: payload kind %s for %s operation", common.ErrCodec, e.Kind(), op.EntityKind)
	}
	if err := e.Validate(); err != nil {
		return ReplayResult{}, err
	}
	// Earlier operations on the record may have advanced its revision since
	// this payload was captured.
	if v, err := m.local.Version(ctx, e.Kind(), e.Head().ID); err == nil && v > e.Head().Version {
		e.Head().Version = v
	}

	saved, err := m.remotePut(ctx, e)
	if err != nil {
		return ReplayResult{}, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	kind, oldID, newID := e.Kind(), e.Head().ID, saved.Head().ID
	later, err := m.queue.HasPending(ctx, kind, oldID, op.OperationID)
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{Saved: saved}
	if oldID != newID {
		res.Mapping = models.IdentityMapping{}
		res.Mapping.Add(kind, oldID, newID)
		if err := m.local.Remap(ctx, kind, oldID, saved, later); err != nil {
			return ReplayResult{}, err
		}
		if _, err := m.queue.Remap(ctx, kind, oldID, newID, op.OperationID); err != nil {
			return ReplayResult{}, err
		}
		m.forgetReferrers(ctx)
		m.logger.Info(ctx, "record id confirmed", "kind", kind, "temp_id", oldID, "id", newID)
		return res, nil
	}

	if later {
		return res, m.local.SetVersion(ctx, kind, oldID, saved.Head().Version)
	}
	if _, err := m.local.Get(ctx, kind, oldID); isNotFound(err) {
		return res, nil
	}
	if _, err := m.local.Put(ctx, saved); err != nil {
		return ReplayResult{}, err
	}
	m.cachePut(ctx, saved)
	return res, nil
}

// Reconcile re-applies a pass's id mapping to every local record and queued
// payload. Replay already did this per record; running it again at the end
// of a drain repairs anything a crash left half done.
func (m *Manager) Reconcile(ctx context.Context, mapping models.IdentityMapping) (int, error) {
	if mapping.Len() == 0 {
		return 0, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	n, err := m.local.RewriteReferences(ctx, mapping)
	if err != nil {
		return 0, err
	}
	for kind, ids := range mapping {
		for oldID, newID := range ids {
			if _, err := m.queue.Remap(ctx, kind, oldID, newID, ""); err != nil {
				return n, err
			}
		}
	}
	m.forgetReferrers(ctx)
	return n, nil
}

// forgetReferrers drops every cached entry, since any of them may still
// hold a reference to a remapped id.
func (m *Manager) forgetReferrers(ctx context.Context) {
	if m.cache == nil {
		return
	}
	for _, kind := range models.Kinds {
		if err := m.cache.InvalidateKind(ctx, kind); err != nil {
			m.logger.Warn(ctx, "cache invalidate failed", "kind", kind, "error", err)
		}
	}
}

// PullSummary counts what an incremental download changed locally.
type PullSummary struct {
	Applied int
	Deleted int
	Skipped int
}

// Pull downloads records changed on the server since the last pull, per
// kind, and applies them locally. Records with unsynced local changes are
// left alone; their queued writes decide the outcome.
func (m *Manager) Pull(ctx context.Context) (PullSummary, error) {
	var sum PullSummary
	rt, owner := m.route()
	if rt == routeLocalOnly || m.meta == nil {
		return sum, nil
	}

	for _, kind := range models.Kinds {
		since, err := m.meta.Watermark(ctx, owner, kind)
		if err != nil {
			return sum, err
		}
		changed, watermark, err := m.remote.ListSince(ctx, kind, since)
		if err != nil {
			return sum, err
		}
		for _, e := range changed {
			applied, err := m.applyPulled(ctx, e)
			if err != nil {
				return sum, err
			}
			switch {
			case !applied:
				sum.Skipped++
			case e.Head().Deleted:
				sum.Deleted++
			default:
				sum.Applied++
			}
		}
		if watermark.After(since) {
			if err := m.meta.SetWatermark(ctx, owner, kind, watermark); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

// ResetPull forgets the current owner's pull watermarks, so the next Pull
// downloads every record again. It returns how many watermarks were dropped.
func (m *Manager) ResetPull(ctx context.Context) (int, error) {
	owner := m.identity.CurrentOwnerScope()
	if owner == "" {
		return 0, fmt.Errorf("reset pull: %w", common.ErrAuth)
	}
	if m.meta == nil {
		return 0, nil
	}
	return m.meta.ResetWatermarks(ctx, owner)
}

func (m *Manager) applyPulled(ctx context.Context, e models.Entity) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	kind, id := e.Kind(), e.Head().ID
	queued, err := m.queue.HasPending(ctx, kind, id, "")
	if err != nil {
		return false, err
	}
	pending, err := m.local.IsPending(ctx, kind, id)
	if err != nil {
		return false, err
	}
	if queued || pending {
		return false, nil
	}
	if e.Head().Deleted {
		return true, m.local.Delete(ctx, kind, id)
	}
	if _, err := m.local.Put(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}


// DismissIssue dismisses a dead-lettered operation. When it was the last
// unsynced write of its record, the remote copy replaces the local one so
// the record stops diverging; a record missing remotely is removed
// locally. Without a reachable remote store the pending flag is cleared and
// the owner's pull watermarks are reset, so the next pull brings the remote
// copy.
func (m *Manager) DismissIssue(ctx context.Context, opID string) error {
	if m.queue == nil {
		return fmt.Errorf("operation %s: %w", opID, common.ErrNotFound)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	ops, err := m.queue.All(ctx)
	if err != nil {
		return err
	}
	var op *models.SyncOperation
	for i := range ops {
		if ops[i].OperationID == opID {
			op = &ops[i]
			break
		}
	}
	if op == nil {
		return fmt.Errorf("operation %s: %w", opID, common.ErrNotFound)
	}
	if op.Status != models.OpDead {
		return fmt.Errorf("%w: operation %s is %s, not a sync issue", common.ErrValidation, opID, op.Status)
	}
	if err := m.queue.Dismiss(ctx, opID); err != nil {
		return err
	}

	for _, other := range ops {
		if other.OperationID == opID || other.Ref() != op.Ref() {
			continue
		}
		if other.Status == models.OpPending || other.Status == models.OpDead {
			return nil
		}
	}
	return m.adoptRemote(ctx, op.EntityKind, op.EntityID, op.OwnerID)
}

// adoptRemote makes the remote copy of a record the local one. The caller
// holds writeMu.
func (m *Manager) adoptRemote(ctx context.Context, kind models.Kind, id, owner string) error {
	var remote models.Entity
	err := common.ErrUnavailable
	if rt, _ := m.route(); rt != routeLocalOnly {
		remote, err = m.origin.Get(ctx, kind, id)
	}
	switch {
	case err == nil:
		if _, err := m.local.Put(ctx, remote); err != nil {
			return err
		}
		m.cachePut(ctx, remote)
		return nil
	case isNotFound(err):
		m.cacheForget(ctx, kind, id)
		return m.local.Delete(ctx, kind, id)
	}

	m.logger.Info(ctx, "remote copy unavailable, next pull refreshes it", "kind", kind, "id", id, "error", err)
	cur, err := m.local.Get(ctx, kind, id)
	switch {
	case err == nil:
		if _, err := m.local.Put(ctx, cur); err != nil {
			return err
		}
	case !isNotFound(err):
		return err
	}
	m.cacheForget(ctx, kind, id)
	if m.meta == nil || owner == "" {
		return nil
	}
	_, err = m.meta.ResetWatermarks(ctx, owner)
	return err
}
