package mapsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"syncevo/luid"
	"syncevo/revstore"
)

// MapSyncSource binds a SubSyncSource, a revision Store and the change
// detector into one session state machine: CLOSED -> OPEN -> CLOSED.
//
// It is not safe for concurrent use. One session runs to completion before
// the next one starts, and the store belongs to this source alone while a
// session is open.
type MapSyncSource struct {
	name    string
	backend SubSyncSource
	store   *revstore.Store
	codec   luid.Codec

	// Session state, valid while open
	open       bool
	detected   bool
	mode       Mode
	oldMap     revstore.RevisionMap
	newMap     revstore.RevisionMap
	changes    Changes
	dbRevision string
}

// New returns a closed MapSyncSource. A backend implementing ParentAware is
// handed the new source as its Parent.
func New(name string, backend SubSyncSource, store *revstore.Store, codec luid.Codec) *MapSyncSource {
	s := &MapSyncSource{
		name:    name,
		backend: backend,
		store:   store,
		codec:   codec,
	}
	if aware, ok := backend.(ParentAware); ok {
		aware.SetParent(s)
	}
	return s
}

// Name returns the source name.
func (s *MapSyncSource) Name() string {
	return s.name
}

// Revision returns a copy of the current entry for mainID. Outside a
// session it reports nothing.
func (s *MapSyncSource) Revision(mainID string) (revstore.RevisionEntry, bool) {
	if !s.open {
		return revstore.RevisionEntry{}, false
	}
	entry, ok := s.newMap[mainID]
	if !ok {
		return revstore.RevisionEntry{}, false
	}
	return entry.Clone(), true
}

// ============================================================================
// Session lifecycle
// ============================================================================

// BeginSync opens a session. lastToken is the token returned by the
// previous successful EndSync ("" forces a slow sync); a non-empty
// resumeToken overrides it.
//
// The session counts as open once the backend accepted BeginSubSync. If a
// later step fails, the caller ends the session with EndSync(false); an
// EndSync(true) is then refused with ErrSessionIncomplete.
func (s *MapSyncSource) BeginSync(ctx context.Context, lastToken, resumeToken string) error {
	if s.open {
		return ErrSessionOpen
	}

	oldMap, dbRevision, err := s.store.Load()
	if err != nil {
		return serr.Wrap(err, "failed to load revision store")
	}

	if err := s.backend.BeginSubSync(ctx); err != nil {
		return serr.Wrap(err, "backend failed to begin session")
	}

	s.open = true
	s.oldMap = oldMap
	s.newMap = revstore.RevisionMap{}
	s.changes = Changes{}
	s.dbRevision = dbRevision

	det, err := NewDetector(s.backend, s.codec).Detect(ctx, oldMap, dbRevision, lastToken, resumeToken)
	if err != nil {
		return serr.Wrap(err, "change detection failed")
	}

	s.mode = det.Mode
	s.newMap = det.Revisions
	s.changes = det.Changes
	s.detected = true

	logger.Info("Sync session started",
		"source", s.name,
		"mode", s.mode.String(),
		"items", len(s.newMap),
		"new", s.changes.Count(ChangeNew),
		"updated", s.changes.Count(ChangeUpdated),
		"deleted", s.changes.Count(ChangeDeleted),
	)
	return nil
}

// EndSync closes the session. On success the current map and the backend's
// database revision are persisted and ContinuationToken is returned. On
// failure nothing is written; the store stays as BeginSync found it.
//
// A session whose change detection failed cannot end successfully: its map
// is incomplete, so the backend is told the session failed and
// ErrSessionIncomplete is returned.
//
// The source is closed afterwards even if EndSync reports an error.
func (s *MapSyncSource) EndSync(ctx context.Context, success bool) (string, error) {
	if !s.open {
		return "", ErrSessionClosed
	}
	defer s.reset()

	if success && !s.detected {
		logger.Info("Sync session ended before change detection finished, revision store left unchanged",
			"source", s.name)
		if err := s.backend.EndSubSync(ctx, false); err != nil {
			logger.LogErr(err, "backend failed to end incomplete session", "source", s.name)
		}
		return "", ErrSessionIncomplete
	}

	if err := s.backend.EndSubSync(ctx, success); err != nil {
		return "", serr.Wrap(err, "backend failed to end session")
	}

	if !success {
		logger.Info("Sync session failed, revision store left unchanged", "source", s.name)
		return "", nil
	}

	dbRevision, err := s.backend.SubDatabaseRevision(ctx)
	if err != nil {
		return "", serr.Wrap(err, "failed to get database revision")
	}

	if err := s.store.Save(s.newMap, dbRevision); err != nil {
		return "", serr.Wrap(err, "failed to persist revision store")
	}

	logger.Info("Sync session completed",
		"source", s.name,
		"items", len(s.newMap),
		"database_revision", dbRevision,
	)
	return ContinuationToken, nil
}

func (s *MapSyncSource) reset() {
	s.open = false
	s.detected = false
	s.mode = ModeNone
	s.oldMap = nil
	s.newMap = nil
	s.changes = nil
	s.dbRevision = ""
}

// ============================================================================
// Item operations
// ============================================================================

// InsertItem adds or replaces the item addressed by luid; an empty luid
// asks for a new item. Unless the backend defers with ItemNeedsMerge, the
// session map records the stored sub-item and the main item's new revision.
func (s *MapSyncSource) InsertItem(ctx context.Context, itemLUID string, data []byte) (InsertResult, error) {
	if !s.open {
		return InsertResult{}, ErrSessionClosed
	}

	mainID, subID := s.codec.Decode(itemLUID)
	res, err := s.backend.InsertSubItem(ctx, mainID, subID, data)
	if err != nil {
		return InsertResult{}, serr.Wrap(err, "failed to insert item "+itemLUID)
	}

	if res.State != ItemNeedsMerge {
		entry := s.newMap[res.MainID]
		if entry.SubIDs == nil {
			entry.SubIDs = revstore.NewSubIDSet()
		}
		entry.Revision = res.Revision
		entry.UID = res.UID
		entry.SubIDs.Add(res.SubID)
		s.newMap[res.MainID] = entry
	}

	newLUID := s.codec.Encode(res.MainID, res.SubID)
	logger.Debug("Inserted item",
		"source", s.name,
		"luid", itemLUID,
		"new_luid", newLUID,
		"state", res.State.String(),
	)
	return InsertResult{LUID: newLUID, Revision: res.Revision, State: res.State}, nil
}

// ReadItem returns the data of the item addressed by luid.
func (s *MapSyncSource) ReadItem(ctx context.Context, itemLUID string) ([]byte, error) {
	if !s.open {
		return nil, ErrSessionClosed
	}

	mainID, subID := s.codec.Decode(itemLUID)
	data, err := s.backend.ReadSubItem(ctx, mainID, subID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read item "+itemLUID)
	}
	return data, nil
}

// DeleteItem removes the item addressed by luid. A main item whose last
// sub-item is removed disappears from the session map.
func (s *MapSyncSource) DeleteItem(ctx context.Context, itemLUID string) error {
	if !s.open {
		return ErrSessionClosed
	}

	mainID, subID := s.codec.Decode(itemLUID)
	revision, err := s.backend.RemoveSubItem(ctx, mainID, subID)
	if err != nil {
		return serr.Wrap(err, "failed to delete item "+itemLUID)
	}

	entry, ok := s.newMap[mainID]
	if !ok {
		logger.Debug("Deleted item unknown to revision map", "source", s.name, "luid", itemLUID)
		return nil
	}
	entry.SubIDs.Remove(subID)
	if len(entry.SubIDs) == 0 {
		delete(s.newMap, mainID)
	} else {
		entry.Revision = revision
		s.newMap[mainID] = entry
	}

	logger.Debug("Deleted item", "source", s.name, "luid", itemLUID)
	return nil
}

// RemoveAllItems deletes every merged item known to the session. Items
// removed before a backend failure are also gone from the session map.
func (s *MapSyncSource) RemoveAllItems(ctx context.Context) error {
	if !s.open {
		return ErrSessionClosed
	}

	for _, mainID := range s.newMap.MainIDs() {
		if err := s.backend.RemoveMergedItem(ctx, mainID); err != nil {
			return serr.Wrap(err, "failed to remove merged item "+mainID)
		}
		delete(s.newMap, mainID)
	}

	logger.Info("Removed all items", "source", s.name)
	return nil
}

// Description returns the backend's short description of an item.
func (s *MapSyncSource) Description(ctx context.Context, itemLUID string) (string, error) {
	if !s.open {
		return "", ErrSessionClosed
	}

	mainID, subID := s.codec.Decode(itemLUID)
	desc, err := s.backend.SubDescription(ctx, mainID, subID)
	if err != nil {
		return "", serr.Wrap(err, "failed to describe item "+itemLUID)
	}
	return desc, nil
}

// ============================================================================
// Session view
// ============================================================================

// Mode reports the detection mode of the open session. It is only
// meaningful between a successful BeginSync and EndSync; otherwise it
// reports ModeNone.
func (s *MapSyncSource) Mode() Mode {
	return s.mode
}

// IsOpen reports whether a session is open.
func (s *MapSyncSource) IsOpen() bool {
	return s.open
}

// IsEmpty reports whether the session sees no items.
func (s *MapSyncSource) IsEmpty() bool {
	return len(s.newMap) == 0
}

// AllItems returns the sorted LUIDs of every sub-item in the session map.
func (s *MapSyncSource) AllItems() []string {
	var luids []string
	for mainID, entry := range s.newMap {
		for subID := range entry.SubIDs {
			luids = append(luids, s.codec.Encode(mainID, subID))
		}
	}
	sort.Strings(luids)
	return luids
}

// NewItems returns the sorted LUIDs detected as new.
func (s *MapSyncSource) NewItems() []string {
	return s.itemsOfKind(ChangeNew)
}

// UpdatedItems returns the sorted LUIDs detected as updated.
func (s *MapSyncSource) UpdatedItems() []string {
	return s.itemsOfKind(ChangeUpdated)
}

// DeletedItems returns the sorted LUIDs detected as deleted.
func (s *MapSyncSource) DeletedItems() []string {
	return s.itemsOfKind(ChangeDeleted)
}

func (s *MapSyncSource) itemsOfKind(kind ChangeKind) []string {
	var luids []string
	for l, k := range s.changes {
		if k == kind {
			luids = append(luids, l)
		}
	}
	sort.Strings(luids)
	return luids
}

// Changes returns a copy of the session's change annotations.
func (s *MapSyncSource) Changes() Changes {
	c := make(Changes, len(s.changes))
	for l, k := range s.changes {
		c[l] = k
	}
	return c
}

// String identifies the source in log output.
func (s *MapSyncSource) String() string {
	state := "closed"
	if s.open {
		state = "open/" + s.mode.String()
	}
	return fmt.Sprintf("MapSyncSource(%s, %s)", s.name, state)
}
