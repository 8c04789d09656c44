// Package mapsync presents merged items (one main item plus sub-items) to a
// generic sync engine as a flat list of LUIDs.
//
// A MapSyncSource runs one session at a time:
//
//	BeginSync  loads the persisted revision map, picks a detection mode and
//	           computes the NEW/UPDATED/DELETED annotations
//	InsertItem, ReadItem, DeleteItem, RemoveAllItems
//	           operate on single LUIDs and keep the in-memory map current
//	EndSync    persists the map on success, or drops it on failure
//
// The data itself lives in a SubSyncSource backend.
package mapsync

import (
	"errors"
	"fmt"
)

// Session state errors
var (
	ErrSessionOpen   = errors.New("sync session already open")
	ErrSessionClosed = errors.New("no sync session open")

	// ErrSessionIncomplete is returned by EndSync(true) when change
	// detection never finished; the revision store is left untouched.
	ErrSessionIncomplete = errors.New("sync session ended as success before change detection finished")
)

// ContinuationToken is returned by a successful EndSync. Its content carries
// no meaning; a non-empty token passed to the next BeginSync only says
// "not a slow sync".
const ContinuationToken = "1"

// ============================================================================
// Change kinds
// ============================================================================

// ChangeKind annotates a visible LUID with what happened to it since the
// last successful session.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota + 1
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "NEW"
	case ChangeUpdated:
		return "UPDATED"
	case ChangeDeleted:
		return "DELETED"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Changes maps a LUID to its change kind. A LUID appears at most once.
type Changes map[string]ChangeKind

// Count returns how many LUIDs carry kind.
func (c Changes) Count(kind ChangeKind) int {
	n := 0
	for _, k := range c {
		if k == kind {
			n++
		}
	}
	return n
}

// ============================================================================
// Detection modes
// ============================================================================

// Mode is the change detection strategy chosen by BeginSync.
type Mode int

const (
	// ModeNone trusts the persisted map completely; no changes.
	ModeNone Mode = iota
	// ModeSlow lists everything and reports every item as new.
	ModeSlow
	// ModeFull lets the backend refresh the persisted map and diffs it.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeSlow:
		return "SLOW"
	case ModeFull:
		return "FULL"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ============================================================================
// Insert results
// ============================================================================

// ItemState reports how a backend stored an inserted item.
type ItemState int

const (
	// ItemOK: stored as sent
	ItemOK ItemState = iota
	// ItemReplaced: an existing item was overwritten
	ItemReplaced
	// ItemMerged: the data was merged into an already existing item
	ItemMerged
	// ItemNeedsMerge: the backend deferred the decision; the revision map
	// is left alone and the next scan reconciles it
	ItemNeedsMerge
)

func (s ItemState) String() string {
	switch s {
	case ItemOK:
		return "OK"
	case ItemReplaced:
		return "REPLACED"
	case ItemMerged:
		return "MERGED"
	case ItemNeedsMerge:
		return "NEEDS_MERGE"
	}
	return fmt.Sprintf("ItemState(%d)", int(s))
}

// SubItemResult is what a backend reports after storing a sub-item.
type SubItemResult struct {
	MainID   string
	SubID    string
	Revision string // new revision of the whole main item
	UID      string
	State    ItemState
}

// InsertResult is what InsertItem reports to the sync engine.
type InsertResult struct {
	LUID     string
	Revision string
	State    ItemState
}
