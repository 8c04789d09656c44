package revstore

import "sort"

// SubIDSet is the set of sub-items currently stored under one main item.
// The empty SubID stands for a plain item without sub-structure.
type SubIDSet map[string]struct{}

// NewSubIDSet returns a set holding ids.
func NewSubIDSet(ids ...string) SubIDSet {
	set := make(SubIDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s SubIDSet) Add(id string) {
	s[id] = struct{}{}
}

func (s SubIDSet) Remove(id string) {
	delete(s, id)
}

func (s SubIDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s SubIDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s SubIDSet) Clone() SubIDSet {
	c := make(SubIDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Equal reports whether both sets hold the same ids.
func (s SubIDSet) Equal(o SubIDSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// RevisionEntry is what is remembered about one merged item between
// sessions. Revision changes whenever any constituent changes; UID is the
// backend's own identifier for the main item.
type RevisionEntry struct {
	Revision string
	UID      string
	SubIDs   SubIDSet
}

// Clone returns a deep copy, so the copy's SubIDs can be mutated freely.
func (e RevisionEntry) Clone() RevisionEntry {
	return RevisionEntry{
		Revision: e.Revision,
		UID:      e.UID,
		SubIDs:   e.SubIDs.Clone(),
	}
}

// RevisionMap maps MainID to its RevisionEntry.
type RevisionMap map[string]RevisionEntry

// Clone returns a deep copy of the map and all entries.
func (m RevisionMap) Clone() RevisionMap {
	c := make(RevisionMap, len(m))
	for id, entry := range m {
		c[id] = entry.Clone()
	}
	return c
}

// MainIDs returns the keys in ascending order.
func (m RevisionMap) MainIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal compares revision, uid and sub-ids of every entry.
func (m RevisionMap) Equal(o RevisionMap) bool {
	if len(m) != len(o) {
		return false
	}
	for id, a := range m {
		b, ok := o[id]
		if !ok || a.Revision != b.Revision || a.UID != b.UID || !a.SubIDs.Equal(b.SubIDs) {
			return false
		}
	}
	return true
}
