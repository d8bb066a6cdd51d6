// Package fake provides an in-memory remote backend for tests. It follows
// the record service semantics: creates for temporary ids are deduplicated
// by client reference, updates check the version, deletes tombstone.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/google/uuid"
)

type stored struct {
	e        models.Entity
	modified time.Time
}

type Remote struct {
	mu      sync.Mutex
	records map[models.Ref]*stored
	refs    map[models.Ref]string
	calls   map[string]int
	fail    error
	failOn  map[models.Ref]error
	clock   time.Time
	PutHook func(e models.Entity)
}

func NewRemote() *Remote {
	return &Remote{
		records: map[models.Ref]*stored{},
		refs:    map[models.Ref]string{},
		calls:   map[string]int{},
		failOn:  map[models.Ref]error{},
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *Remote) Name() backend.Name { return backend.Remote }

// Fail makes every following call return err. Fail(nil) heals.
func (r *Remote) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// FailOn makes writes of one record return err.
func (r *Remote) FailOn(kind models.Kind, id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failOn, models.Ref{Kind: kind, ID: id})
		return
	}
	r.failOn[models.Ref{Kind: kind, ID: id}] = err
}

func (r *Remote) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// Seed stores e as if another client had written it.
func (r *Remote) Seed(e models.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := e.Clone()
	if c.Head().Version == 0 {
		c.Head().Version = 1
	}
	r.records[ref(c)] = &stored{e: c, modified: r.tick()}
}

// Snapshot returns the live stored copy of (kind, id), tombstones included.
func (r *Remote) Snapshot(kind models.Kind, id string) (models.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.records[models.Ref{Kind: kind, ID: id}]
	if !ok {
		return nil, false
	}
	return s.e.Clone(), true
}

// Len counts live records of kind.
func (r *Remote) Len(kind models.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.records {
		if k.Kind == kind && !s.e.Head().Deleted {
			n++
		}
	}
	return n
}

func (r *Remote) Get(_ context.Context, kind models.Kind, id string) (models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("get"); err != nil {
		return nil, err
	}
	s, ok := r.records[models.Ref{Kind: kind, ID: id}]
	if !ok || s.e.Head().Deleted {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	return s.e.Clone(), nil
}

func (r *Remote) List(_ context.Context, kind models.Kind) ([]models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("list"); err != nil {
		return nil, err
	}
	var out []models.Entity
	for _, s := range r.sorted(kind) {
		if !s.e.Head().Deleted {
			out = append(out, s.e.Clone())
		}
	}
	return out, nil
}

func (r *Remote) ListSince(_ context.Context, kind models.Kind, since time.Time) ([]models.Entity, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("list_since"); err != nil {
		return nil, time.Time{}, err
	}
	var (
		out       []models.Entity
		watermark = since
	)
	for _, s := range r.sorted(kind) {
		if s.modified.After(since) {
			out = append(out, s.e.Clone())
			if s.modified.After(watermark) {
				watermark = s.modified
			}
		}
	}
	return out, watermark, nil
}

func (r *Remote) Put(_ context.Context, e models.Entity) (models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("put"); err != nil {
		return nil, err
	}
	if err := r.failOn[ref(e)]; err != nil {
		return nil, err
	}
	if r.PutHook != nil {
		r.PutHook(e)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	c := e.Clone()
	h := c.Head()
	h.Deleted = false
	if models.IsTempID(h.ID) {
		clientRef := ref(c)
		if id, ok := r.refs[clientRef]; ok {
			return r.records[models.Ref{Kind: c.Kind(), ID: id}].e.Clone(), nil
		}
		h.ID = uuid.NewString()
		h.Version = 1
		r.refs[clientRef] = h.ID
		r.records[ref(c)] = &stored{e: c, modified: r.tick()}
		return c.Clone(), nil
	}

	if cur, ok := r.records[ref(c)]; ok && !cur.e.Head().Deleted {
		if cur.e.Head().Version != h.Version {
			return nil, fmt.Errorf("%s %s: version %d, stored %d: %w",
				c.Kind(), h.ID, h.Version, cur.e.Head().Version, common.ErrConflict)
		}
		h.Version = cur.e.Head().Version + 1
	} else {
		h.Version = 1
	}
	r.records[ref(c)] = &stored{e: c, modified: r.tick()}
	return c.Clone(), nil
}

func (r *Remote) Delete(_ context.Context, kind models.Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("delete"); err != nil {
		return err
	}
	if err := r.failOn[models.Ref{Kind: kind, ID: id}]; err != nil {
		return err
	}
	s, ok := r.records[models.Ref{Kind: kind, ID: id}]
	if !ok || s.e.Head().Deleted {
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	s.e.Head().Deleted = true
	s.e.Head().Version++
	s.modified = r.tick()
	return nil
}

func (r *Remote) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enter("ping")
}

func (r *Remote) enter(method string) error {
	r.calls[method]++
	return r.fail
}

func (r *Remote) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

func (r *Remote) sorted(kind models.Kind) []*stored {
	var out []*stored
	for k, s := range r.records {
		if k.Kind == kind {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].modified.Before(out[j].modified) })
	return out
}

func ref(e models.Entity) models.Ref {
	return models.Ref{Kind: e.Kind(), ID: e.Head().ID}
}

var _ backend.RemoteAdapter = (*Remote)(nil)
