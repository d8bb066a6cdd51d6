package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/google/uuid"
)

type Service struct {
	store  Store
	logger logging.Logger
	now    func() time.Time

	clockMu sync.Mutex
	last    time.Time

	// writeMu spans stamping and the store write, so writes commit in
	// stamp order and a ListSince watermark never passes an uncommitted
	// stamp.
	writeMu sync.Mutex
}

func NewService(store Store, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{store: store, logger: logger.With("module", "records"), now: time.Now}
}

// stamp returns a strictly increasing modification time at the precision
// Postgres keeps, so change listings never tie across two writes.
func (s *Service) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func requireOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("no owner: %w", common.ErrAuth)
	}
	return nil
}

// Get returns a live record. Tombstones are reported as missing.
func (s *Service) Get(ctx context.Context, owner string, kind models.Kind, id string) (models.Entity, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, owner, kind, id)
	if err != nil {
		return nil, err
	}
	if rec.Entity.Head().Deleted {
		return nil, fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
	}
	return rec.Entity, nil
}

func (s *Service) List(ctx context.Context, owner string, kind models.Kind) ([]models.Entity, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	recs, err := s.store.List(ctx, owner, kind)
	if err != nil {
		return nil, err
	}
	return entities(recs), nil
}

// ListSince returns every record of kind changed after since, tombstones
// included, with the watermark to pass on the next call.
func (s *Service) ListSince(ctx context.Context, owner string, kind models.Kind, since time.Time) ([]models.Entity, time.Time, error) {
	if err := requireOwner(owner); err != nil {
		return nil, time.Time{}, err
	}
	recs, err := s.store.ListSince(ctx, owner, kind, since)
	if err != nil {
		return nil, time.Time{}, err
	}
	watermark := since
	for _, r := range recs {
		if r.ServerUpdatedAt.After(watermark) {
			watermark = r.ServerUpdatedAt
		}
	}
	return entities(recs), watermark, nil
}

// Put stores e for owner. A non-empty clientRef marks a create: the record
// gets a fresh id, and a repeated create with the same clientRef returns the
// record made by the first one. Otherwise e updates the record with its id,
// which must still be at e's version; an update of a record the server never
// saw creates it under that id.
func (s *Service) Put(ctx context.Context, owner string, e models.Entity, clientRef string) (models.Entity, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: empty record", common.ErrValidation)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	e = e.Clone()
	h := e.Head()
	h.OwnerID = owner
	h.Deleted = false

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	rec := Record{OwnerID: owner, Entity: e, ServerUpdatedAt: s.stamp()}

	if clientRef != "" {
		h.ID = uuid.NewString()
		h.Version = 1
		rec.ClientRef = clientRef
		saved, err := s.store.Create(ctx, rec)
		if err != nil {
			return nil, err
		}
		if saved.ID() != h.ID {
			s.logger.Debug(ctx, "duplicate create", "kind", e.Kind(), "client_ref", clientRef, "id", saved.ID())
		}
		return saved.Entity, nil
	}

	if h.ID == "" || models.IsTempID(h.ID) {
		return nil, fmt.Errorf("%w: update of %s needs a server id", common.ErrValidation, e.Kind())
	}
	saved, err := s.store.Update(ctx, rec)
	if errors.Is(err, common.ErrNotFound) {
		h.Version = 1
		saved, err = s.store.Create(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	return saved.Entity, nil
}

func (s *Service) Delete(ctx context.Context, owner string, kind models.Kind, id string) error {
	if err := requireOwner(owner); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Delete(ctx, owner, kind, id, s.stamp())
}

func entities(recs []Record) []models.Entity {
	out := make([]models.Entity, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Entity)
	}
	return out
}
