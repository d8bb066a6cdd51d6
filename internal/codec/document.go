// Package codec translates between the canonical in-memory entities and the
// shapes each backend stores: a nested JSON document for the local store,
// cache and sync queue, and a flat snake_case row for the remote store.
//
// All functions are pure. Failures wrap common.ErrCodec; absent optional
// values stay absent and are never replaced by zero values.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Document is the nested-blob shape of a record.
type Document struct {
	Kind      models.Kind     `json:"kind" cbor:"1,keyasint"`
	ID        string          `json:"id" cbor:"2,keyasint"`
	OwnerID   string          `json:"ownerId,omitempty" cbor:"3,keyasint,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt" cbor:"4,keyasint"`
	Version   int64           `json:"version,omitempty" cbor:"5,keyasint,omitempty"`
	Body      json.RawMessage `json:"body" cbor:"6,keyasint"`
}

func (d Document) Ref() models.Ref {
	return models.Ref{Kind: d.Kind, ID: d.ID}
}

func ToDocument(e models.Entity) (Document, error) {
	if e == nil {
		return Document{}, fmt.Errorf("%w: nil entity", common.ErrCodec)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return Document{}, fmt.Errorf("%w: encode %s: %v", common.ErrCodec, e.Kind(), err)
	}
	h := e.Head()
	return Document{
		Kind:      e.Kind(),
		ID:        h.ID,
		OwnerID:   h.OwnerID,
		UpdatedAt: h.UpdatedAt.UTC(),
		Version:   h.Version,
		Body:      body,
	}, nil
}

// FromDocument decodes d. Header fields of the document take precedence
// over those embedded in the body.
func FromDocument(d Document) (models.Entity, error) {
	e, err := models.New(d.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	if len(d.Body) == 0 {
		return nil, fmt.Errorf("%w: %s %s has no body", common.ErrCodec, d.Kind, d.ID)
	}
	if err := json.Unmarshal(d.Body, e); err != nil {
		return nil, fmt.Errorf("%w: decode %s %s: %v", common.ErrCodec, d.Kind, d.ID, err)
	}
	h := e.Head()
	h.ID = d.ID
	h.OwnerID = d.OwnerID
	h.UpdatedAt = d.UpdatedAt
	h.Version = d.Version
	if err := checkRequired(e); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodePayload serializes e as a JSON document, the format kept in the sync
// queue and in export archives.
func EncodePayload(e models.Entity) ([]byte, error) {
	d, err := ToDocument(e)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	return b, nil
}

func DecodePayload(b []byte) (models.Entity, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	return FromDocument(d)
}

func checkRequired(e models.Entity) error {
	missing := ""
	if e.Head().ID == "" {
		missing = "id"
	}
	switch v := e.(type) {
	case *models.Player:
		if v.Name == "" {
			missing = "name"
		}
	case *models.Season:
		if v.Name == "" {
			missing = "name"
		}
	case *models.Tournament:
		if v.Name == "" {
			missing = "name"
		}
	case *models.Game:
		switch {
		case v.TeamName == "":
			missing = "teamName"
		case v.OpponentName == "":
			missing = "opponentName"
		case v.GameDate == "":
			missing = "gameDate"
		}
	case *models.AppSettings:
		if v.Language == "" {
			missing = "language"
		}
	case *models.TimerState:
		if v.GameID == "" {
			missing = "gameId"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s record missing required field %s", common.ErrCodec, e.Kind(), missing)
	}
	return nil
}
