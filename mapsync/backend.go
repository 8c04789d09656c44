package mapsync

import (
	"context"

	"syncevo/revstore"
)

// SubSyncSource is the data store behind a MapSyncSource. It knows merged
// items as (MainID, SubID) pairs and keeps one revision per main item that
// changes whenever any of its sub-items changes.
//
// All calls are blocking. Errors are returned to the caller of the
// MapSyncSource operation unchanged apart from wrapping.
type SubSyncSource interface {
	// BeginSubSync and EndSubSync bracket every session.
	BeginSubSync(ctx context.Context) error
	EndSubSync(ctx context.Context, success bool) error

	// ListAllSubItems returns the complete current state.
	ListAllSubItems(ctx context.Context) (revstore.RevisionMap, error)

	// UpdateAllSubItems refreshes revs in place: it adds missing main items,
	// removes deleted ones and rewrites entries whose revision changed.
	UpdateAllSubItems(ctx context.Context, revs revstore.RevisionMap) error

	// SubDatabaseRevision returns a token that changes whenever anything in
	// the store changes, or "" when the backend cannot tell.
	SubDatabaseRevision(ctx context.Context) (string, error)

	// InsertSubItem stores data. An empty mainID asks for a new main item.
	InsertSubItem(ctx context.Context, mainID, subID string, data []byte) (SubItemResult, error)

	ReadSubItem(ctx context.Context, mainID, subID string) ([]byte, error)

	// RemoveSubItem deletes one sub-item and returns the main item's
	// remaining revision, or "" when the main item is gone.
	RemoveSubItem(ctx context.Context, mainID, subID string) (string, error)

	// RemoveMergedItem deletes a main item with all its sub-items.
	RemoveMergedItem(ctx context.Context, mainID string) error

	// SubDescription returns a short human readable description.
	SubDescription(ctx context.Context, mainID, subID string) (string, error)
}

// Parent is the view a backend gets of the MapSyncSource it serves. It is a
// plain reference; the backend does not own the source.
type Parent interface {
	Name() string
	// Revision returns a copy of the current session's entry for mainID.
	Revision(mainID string) (revstore.RevisionEntry, bool)
}

// ParentAware is implemented by backends that want their Parent.
type ParentAware interface {
	SetParent(p Parent)
}
