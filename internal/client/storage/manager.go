// Package storage is the single entry point the application uses to read and
// write records. The Manager picks the backend per the configured policy,
// falls back to the local store and the sync queue when the remote store is
// unreachable, and applies confirmed remote results back to local copies.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/client/cache"
	"github.com/dmitrijs2005/coachkeeper/internal/client/identity"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Config is the storage policy, fixed for the life of a Manager.
type Config struct {
	PreferredBackend backend.Name
	FallbackEnabled  bool
}

// LocalStore is the durable on-device store.
type LocalStore interface {
	backend.Adapter
	PutPending(ctx context.Context, e models.Entity) error
	IsPending(ctx context.Context, kind models.Kind, id string) (bool, error)
	ListPending(ctx context.Context, kind models.Kind) ([]models.Entity, error)
	Version(ctx context.Context, kind models.Kind, id string) (int64, error)
	SetVersion(ctx context.Context, kind models.Kind, id string, version int64) error
	Remap(ctx context.Context, kind models.Kind, oldID string, saved models.Entity, keepPending bool) error
	RewriteReferences(ctx context.Context, mapping models.IdentityMapping) (int, error)
}

// Queue is the part of the sync queue the Manager writes to.
type Queue interface {
	Enqueue(ctx context.Context, op models.SyncOperation) (models.SyncOperation, error)
	HasPending(ctx context.Context, kind models.Kind, id, exceptID string) (bool, error)
	Remap(ctx context.Context, kind models.Kind, oldID, newID, skipID string) (int, error)
	Depth(ctx context.Context) (pending, dead int, err error)
	All(ctx context.Context) ([]models.SyncOperation, error)
	Dismiss(ctx context.Context, id string) error
}

// Backends groups the stores a Manager works over. Remote and Cache may be
// nil; without Remote the Manager is local-only.
type Backends struct {
	Local  LocalStore
	Remote backend.RemoteAdapter
	Cache  *cache.Store
	Queue  Queue
	Meta   metadata.Repository
}

// Result is a value plus where it came from. Pending marks a value not yet
// confirmed by the remote store; Stale marks a local fallback read made
// while the remote store was unreachable.
type Result[T any] struct {
	Value   T
	Pending bool
	Stale   bool
}

type Manager struct {
	cfg      Config
	local    LocalStore
	remote   backend.RemoteAdapter
	origin   backend.RemoteAdapter
	cache    *cache.Store
	queue    Queue
	meta     metadata.Repository
	identity identity.Provider
	logger   logging.Logger
	now      func() time.Time

	// writeMu orders stamping, routing and the local half of replays.
	writeMu sync.Mutex
	// settingsMu spans the read-modify-write of a settings patch.
	settingsMu sync.Mutex
}

func New(cfg Config, b Backends, id identity.Provider, logger logging.Logger) *Manager {
	if cfg.PreferredBackend == "" {
		cfg.PreferredBackend = backend.Local
	}
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		cfg:      cfg,
		local:    b.Local,
		origin:   b.Remote,
		remote:   b.Remote,
		cache:    b.Cache,
		queue:    b.Queue,
		meta:     b.Meta,
		identity: id,
		logger:   logger.With("module", "storage"),
		now:      time.Now,
	}
	if b.Remote != nil && b.Cache != nil {
		cached := cache.WrapRemote(b.Cache, b.Remote, logger)
		cached.SetHold(m.unsynced)
		m.remote = cached
	}
	return m
}

// unsynced reports whether the local copy of a record is ahead of the
// remote one: flagged pending or with a queued operation. Lookup failures
// count as unsynced.
func (m *Manager) unsynced(ctx context.Context, kind models.Kind, id string) bool {
	if pending, err := m.local.IsPending(ctx, kind, id); err != nil || pending {
		return true
	}
	if m.queue == nil {
		return false
	}
	queued, err := m.queue.HasPending(ctx, kind, id, "")
	return err != nil || queued
}

type route int

const (
	// routeLocalOnly writes locally with nothing to sync to.
	routeLocalOnly route = iota
	// routeQueued writes locally and queues the remote write.
	routeQueued
	// routeRemote writes remotely first.
	routeRemote
)

// route resolves the policy for the current identity. Without an owner no
// remote access is possible, whatever the configuration says.
func (m *Manager) route() (route, string) {
	owner := m.identity.CurrentOwnerScope()
	switch {
	case owner == "" || m.remote == nil || m.queue == nil:
		return routeLocalOnly, owner
	case m.cfg.PreferredBackend == backend.Remote:
		return routeRemote, owner
	default:
		return routeQueued, owner
	}
}

func (m *Manager) cachePending(ctx context.Context, e models.Entity) {
	if m.cache == nil {
		return
	}
	if err := m.cache.PutPending(ctx, e); err != nil {
		m.logger.Warn(ctx, "cache write failed", "kind", e.Kind(), "id", e.Head().ID, "error", err)
	}
}

func (m *Manager) cachePut(ctx context.Context, e models.Entity) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Put(ctx, e); err != nil {
		m.logger.Warn(ctx, "cache write failed", "kind", e.Kind(), "id", e.Head().ID, "error", err)
	}
}

func (m *Manager) cacheForget(ctx context.Context, kind models.Kind, id string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, kind, id); err != nil {
		m.logger.Warn(ctx, "cache invalidate failed", "kind", kind, "id", id, "error", err)
	}
}

// SyncIssues counts dead-lettered operations awaiting the user's attention.
func (m *Manager) SyncIssues(ctx context.Context) (int, error) {
	if m.queue == nil {
		return 0, nil
	}
	_, dead, err := m.queue.Depth(ctx)
	return dead, err
}

// PendingWrites counts queued operations not yet confirmed.
func (m *Manager) PendingWrites(ctx context.Context) (int, error) {
	if m.queue == nil {
		return 0, nil
	}
	pending, _, err := m.queue.Depth(ctx)
	return pending, err
}
