package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// ExportSchemaVersion is the version of ExportPayload written by ExportAll.
const ExportSchemaVersion = 1

type ExportPayload struct {
	SchemaVersion int                             `json:"schemaVersion"`
	ExportedAt    time.Time                       `json:"exportedAt"`
	Entities      map[models.Kind][]codec.Document `json:"entities"`
}

// ExportAll snapshots every kind as seen through the Manager.
func (m *Manager) ExportAll(ctx context.Context) (ExportPayload, error) {
	p := ExportPayload{
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    m.now().UTC(),
		Entities:      map[models.Kind][]codec.Document{},
	}
	for _, kind := range models.Kinds {
		r, err := m.list(ctx, kind)
		if err != nil {
			return ExportPayload{}, fmt.Errorf("failed to export %s: %w", kind, err)
		}
		docs := make([]codec.Document, 0, len(r.Value))
		for _, e := range r.Value {
			d, err := codec.ToDocument(e)
			if err != nil {
				return ExportPayload{}, err
			}
			docs = append(docs, d)
		}
		p.Entities[kind] = docs
	}
	return p, nil
}

type ImportSummary struct {
	Imported int
	Pending  int
	// Restored counts records written back under their exported id.
	Restored int
	// Mapping maps exported ids to the ids the records got here. Restored
	// records keep their id and are not listed.
	Mapping models.IdentityMapping
}

// ImportAll saves every exported record through the normal write path.
// Records the server already assigned to the signed-in owner are restored
// in place under their id, so importing an owner's own backup twice never
// duplicates them. Every other record (a temporary id, or another owner's)
// is saved as a new record under a fresh id, and references between
// imported records are rewritten to follow. Kinds are saved in dependency
// order so a reference always points at an id that is already known.
func (m *Manager) ImportAll(ctx context.Context, p ExportPayload) (ImportSummary, error) {
	if p.SchemaVersion < 1 || p.SchemaVersion > ExportSchemaVersion {
		return ImportSummary{}, fmt.Errorf("%w: unsupported export schema version %d", common.ErrValidation, p.SchemaVersion)
	}

	owner := m.identity.CurrentOwnerScope()
	decoded := map[models.Kind][]models.Entity{}
	mapping := models.IdentityMapping{}
	for _, kind := range models.Kinds {
		for _, d := range p.Entities[kind] {
			if d.Kind != kind {
				return ImportSummary{}, fmt.Errorf("%w: %s document filed under %s", common.ErrCodec, d.Kind, kind)
			}
			e, err := codec.FromDocument(d)
			if err != nil {
				return ImportSummary{}, err
			}
			if err := e.Validate(); err != nil {
				return ImportSummary{}, fmt.Errorf("%s %s: %w", kind, d.ID, err)
			}
			if !kind.Singleton() && !ownedServerID(d, owner) {
				mapping.Add(kind, d.ID, models.NewTempID(kind))
			}
			decoded[kind] = append(decoded[kind], e)
		}
	}

	sum := ImportSummary{Mapping: mapping}
	for _, kind := range models.Kinds {
		for _, e := range decoded[kind] {
			oldID := e.Head().ID
			newID, remapped := mapping.Lookup(kind, oldID)
			if remapped {
				e.Head().ID = newID
			}
			mapping.Apply(e)
			e.Head().Version = 0

			r, err := m.save(ctx, e)
			if err != nil {
				return sum, fmt.Errorf("failed to import %s %s: %w", kind, oldID, err)
			}
			switch {
			case remapped:
				mapping.Add(kind, oldID, r.Value.Head().ID)
			case !kind.Singleton():
				sum.Restored++
			}
			sum.Imported++
			if r.Pending {
				sum.Pending++
			}
		}
	}
	return sum, nil
}

// ownedServerID reports whether d is a server-assigned record of owner.
func ownedServerID(d codec.Document, owner string) bool {
	return owner != "" && d.OwnerID == owner && !models.IsTempID(d.ID)
}
