package models

import (
	"fmt"
	"strings"
	"time"
)

// Header carries the fields every record shares.
type Header struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version is the server-assigned revision; zero until first confirmed.
	Version int64 `json:"version,omitempty"`
	// Deleted is only set on tombstones returned by incremental pulls.
	Deleted bool `json:"deleted,omitempty"`
}

func (h *Header) Head() *Header { return h }

// Entity is implemented by every record kind.
type Entity interface {
	Kind() Kind
	Head() *Header
	Validate() error
	// References lists the ids of other records this one points to.
	References() []Ref
	// RewriteRef replaces every reference to (kind, oldID) with newID and
	// reports whether anything changed.
	RewriteRef(kind Kind, oldID, newID string) bool
	Clone() Entity
}

// Ref points at another record.
type Ref struct {
	Kind Kind
	ID   string
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

func ParseRef(s string) (Ref, error) {
	k, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("malformed reference %q", s)
	}
	kind, err := ParseKind(k)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Kind: kind, ID: id}, nil
}

func refIfSet(kind Kind, id *string) []Ref {
	if id == nil || *id == "" {
		return nil
	}
	return []Ref{{Kind: kind, ID: *id}}
}

func refsOf(kind Kind, ids []string) []Ref {
	out := make([]Ref, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, Ref{Kind: kind, ID: id})
		}
	}
	return out
}

func rewritePtr(p *string, oldID, newID string) bool {
	if p == nil || *p != oldID {
		return false
	}
	*p = newID
	return true
}

func rewriteSlice(ids []string, oldID, newID string) bool {
	changed := false
	for i := range ids {
		if ids[i] == oldID {
			ids[i] = newID
			changed = true
		}
	}
	return changed
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// Str returns a pointer to s.
func Str(s string) *string { return &s }
