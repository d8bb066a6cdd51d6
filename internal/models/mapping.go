package models

// IdentityMapping collects old→new identifier pairs per kind for one
// migration or reconciliation pass. It is never persisted.
type IdentityMapping map[Kind]map[string]string

func (m IdentityMapping) Add(kind Kind, oldID, newID string) {
	if oldID == newID {
		return
	}
	if m[kind] == nil {
		m[kind] = map[string]string{}
	}
	m[kind][oldID] = newID
}

func (m IdentityMapping) Lookup(kind Kind, oldID string) (string, bool) {
	id, ok := m[kind][oldID]
	return id, ok
}

// Apply rewrites every reference of e covered by the mapping.
func (m IdentityMapping) Apply(e Entity) bool {
	changed := false
	for _, ref := range e.References() {
		if newID, ok := m.Lookup(ref.Kind, ref.ID); ok {
			if e.RewriteRef(ref.Kind, ref.ID, newID) {
				changed = true
			}
		}
	}
	return changed
}

func (m IdentityMapping) Len() int {
	n := 0
	for _, ids := range m {
		n += len(ids)
	}
	return n
}
