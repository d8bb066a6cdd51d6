package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

type memKey struct {
	owner string
	kind  models.Kind
	id    string
}

// MemoryStore keeps records in process memory. It backs development runs
// and tests; everything is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memKey]Record
	refs    map[memKey]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[memKey]Record{},
		refs:    map[memKey]string{},
	}
}

func clone(r Record) Record {
	r.Entity = r.Entity.Clone()
	return r
}

func (s *MemoryStore) Get(_ context.Context, owner string, kind models.Kind, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[memKey{owner, kind, id}]
	if !ok {
		return Record{}, fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	return clone(r), nil
}

func (s *MemoryStore) List(_ context.Context, owner string, kind models.Kind) ([]Record, error) {
	out := s.filter(owner, kind, func(r Record) bool { return !r.Entity.Head().Deleted })
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Entity.Head(), out[j].Entity.Head()
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *MemoryStore) ListSince(_ context.Context, owner string, kind models.Kind, since time.Time) ([]Record, error) {
	out := s.filter(owner, kind, func(r Record) bool { return r.ServerUpdatedAt.After(since) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ServerUpdatedAt.Equal(out[j].ServerUpdatedAt) {
			return out[i].ServerUpdatedAt.Before(out[j].ServerUpdatedAt)
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

func (s *MemoryStore) filter(owner string, kind models.Kind, keep func(Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for k, r := range s.records {
		if k.owner == owner && k.kind == kind && keep(r) {
			out = append(out, clone(r))
		}
	}
	return out
}

func (s *MemoryStore) Create(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ClientRef != "" {
		if id, ok := s.refs[memKey{rec.OwnerID, rec.Kind(), rec.ClientRef}]; ok {
			return clone(s.records[memKey{rec.OwnerID, rec.Kind(), id}]), nil
		}
	}
	k := memKey{rec.OwnerID, rec.Kind(), rec.ID()}
	if _, ok := s.records[k]; ok {
		return Record{}, fmt.Errorf("%s %s already exists: %w", k.kind, k.id, common.ErrConflict)
	}
	rec = clone(rec)
	s.records[k] = rec
	if rec.ClientRef != "" {
		s.refs[memKey{rec.OwnerID, rec.Kind(), rec.ClientRef}] = rec.ID()
	}
	return clone(rec), nil
}

func (s *MemoryStore) Update(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{rec.OwnerID, rec.Kind(), rec.ID()}
	cur, ok := s.records[k]
	if !ok {
		return Record{}, fmt.Errorf("%s %s: %w", k.kind, k.id, common.ErrNotFound)
	}
	if cur.Entity.Head().Version != rec.Entity.Head().Version {
		return Record{}, fmt.Errorf("%s %s at version %d, got %d: %w",
			k.kind, k.id, cur.Entity.Head().Version, rec.Entity.Head().Version, common.ErrConflict)
	}
	next := clone(rec)
	next.ClientRef = cur.ClientRef
	h := next.Entity.Head()
	h.Version = cur.Entity.Head().Version + 1
	h.Deleted = false
	s.records[k] = next
	return clone(next), nil
}

func (s *MemoryStore) Delete(_ context.Context, owner string, kind models.Kind, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey{owner, kind, id}
	cur, ok := s.records[k]
	if !ok {
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	if cur.Entity.Head().Deleted {
		return nil
	}
	cur = clone(cur)
	h := cur.Entity.Head()
	h.Deleted = true
	h.Version++
	cur.ServerUpdatedAt = at
	s.records[k] = cur
	return nil
}

func (s *MemoryStore) Close() error { return nil }
