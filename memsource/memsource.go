// Package memsource is an in-memory SubSyncSource. It backs dry runs and
// serves as the reference backend in tests.
//
// Every mutation bumps a global counter. The counter is the database
// revision, and the mutated main item takes its current value as revision,
// so revisions never repeat within one Source.
package memsource

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"syncevo/mapsync"
	"syncevo/revstore"
)

// Op names a backend operation for failure injection.
type Op string

const (
	OpBegin            Op = "begin"
	OpEnd              Op = "end"
	OpList             Op = "list"
	OpUpdate           Op = "update"
	OpDatabaseRevision Op = "database-revision"
	OpInsert           Op = "insert"
	OpRead             Op = "read"
	OpRemove           Op = "remove"
	OpRemoveMerged     Op = "remove-merged"
	OpDescription      Op = "description"
)

type mainItem struct {
	uid      string
	revision string
	subs     map[string][]byte
}

func (m *mainItem) entry() revstore.RevisionEntry {
	subIDs := revstore.NewSubIDSet()
	for subID := range m.subs {
		subIDs.Add(subID)
	}
	return revstore.RevisionEntry{Revision: m.revision, UID: m.uid, SubIDs: subIDs}
}

// Source keeps merged items in memory.
type Source struct {
	mu       sync.Mutex
	items    map[string]*mainItem
	counter  int
	failures map[Op]error
	calls    map[Op]int
	merge    bool
	parent   mapsync.Parent
	inSync   bool
}

func New() *Source {
	return &Source{
		items:    map[string]*mainItem{},
		failures: map[Op]error{},
		calls:    map[Op]int{},
	}
}

// ============================================================================
// Test hooks
// ============================================================================

// FailOn makes every following call of op return err. A nil err clears it.
func (s *Source) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// ForceNeedsMerge makes InsertSubItem report ItemNeedsMerge without storing.
func (s *Source) ForceNeedsMerge(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merge = on
}

// Calls returns how often op was invoked.
func (s *Source) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// InSync reports whether a session is between BeginSubSync and EndSubSync.
func (s *Source) InSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inSync
}

// Parent returns the parent set by the MapSyncSource, if any.
func (s *Source) Parent() mapsync.Parent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parent
}

// SetParent implements mapsync.ParentAware.
func (s *Source) SetParent(p mapsync.Parent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = p
}

// ============================================================================
// Local edits, applied outside of a session
// ============================================================================

// Put stores data as sub-item subID of mainID, creating the main item when
// needed, and returns the main item's new revision.
func (s *Source) Put(mainID, subID string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(mainID, subID, data)
}

// Remove deletes one sub-item, and the main item with its last sub-item.
func (s *Source) Remove(mainID, subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(mainID, subID)
}

// SetRevision overwrites the revision of mainID without touching its data.
// It does not bump the database revision.
func (s *Source) SetRevision(mainID, revision string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[mainID]; ok {
		item.revision = revision
	}
}

// Has reports whether the sub-item exists.
func (s *Source) Has(mainID, subID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[mainID]
	if !ok {
		return false
	}
	_, ok = item.subs[subID]
	return ok
}

// Len returns the number of main items.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Source) bump() string {
	s.counter++
	return strconv.Itoa(s.counter)
}

func (s *Source) put(mainID, subID string, data []byte) string {
	item, ok := s.items[mainID]
	if !ok {
		item = &mainItem{uid: uuid.NewString(), subs: map[string][]byte{}}
		s.items[mainID] = item
	}
	item.subs[subID] = append([]byte(nil), data...)
	item.revision = s.bump()
	return item.revision
}

func (s *Source) remove(mainID, subID string) string {
	item, ok := s.items[mainID]
	if !ok {
		return ""
	}
	delete(item.subs, subID)
	rev := s.bump()
	if len(item.subs) == 0 {
		delete(s.items, mainID)
		return ""
	}
	item.revision = rev
	return rev
}

// ============================================================================
// mapsync.SubSyncSource
// ============================================================================

// enter records the call and returns the injected failure or the context
// error. The caller holds s.mu.
func (s *Source) enter(ctx context.Context, op Op) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return serr.Wrap(err, "memsource "+string(op)+" cancelled")
	}
	if err := s.failures[op]; err != nil {
		return err
	}
	return nil
}

func (s *Source) BeginSubSync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpBegin); err != nil {
		return err
	}
	s.inSync = true
	return nil
}

func (s *Source) EndSubSync(ctx context.Context, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSync = false
	if err := s.enter(ctx, OpEnd); err != nil {
		return err
	}
	logger.Debug("memsource session ended", "success", success, "items", len(s.items))
	return nil
}

func (s *Source) ListAllSubItems(ctx context.Context) (revstore.RevisionMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpList); err != nil {
		return nil, err
	}

	revs := make(revstore.RevisionMap, len(s.items))
	for mainID, item := range s.items {
		revs[mainID] = item.entry()
	}
	return revs, nil
}

// UpdateAllSubItems only rewrites entries whose revision differs, the way a
// backend avoids re-reading unchanged items.
func (s *Source) UpdateAllSubItems(ctx context.Context, revs revstore.RevisionMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpdate); err != nil {
		return err
	}

	for mainID := range revs {
		if _, ok := s.items[mainID]; !ok {
			delete(revs, mainID)
		}
	}
	for mainID, item := range s.items {
		if old, ok := revs[mainID]; ok && old.Revision == item.revision {
			continue
		}
		revs[mainID] = item.entry()
	}
	return nil
}

func (s *Source) SubDatabaseRevision(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDatabaseRevision); err != nil {
		return "", err
	}
	return strconv.Itoa(s.counter), nil
}

// InsertSubItem stores data. Without a mainID, data identical to an existing
// sub-item is merged into that item instead of creating a duplicate.
func (s *Source) InsertSubItem(ctx context.Context, mainID, subID string, data []byte) (mapsync.SubItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpInsert); err != nil {
		return mapsync.SubItemResult{}, err
	}

	if s.merge {
		return mapsync.SubItemResult{MainID: mainID, SubID: subID, State: mapsync.ItemNeedsMerge}, nil
	}

	if mainID == "" {
		if dupMain, dupSub, ok := s.findDuplicate(data); ok {
			item := s.items[dupMain]
			return mapsync.SubItemResult{
				MainID:   dupMain,
				SubID:    dupSub,
				Revision: item.revision,
				UID:      item.uid,
				State:    mapsync.ItemMerged,
			}, nil
		}
		mainID = uuid.NewString()
	}

	state := mapsync.ItemOK
	if item, ok := s.items[mainID]; ok {
		if _, exists := item.subs[subID]; exists {
			state = mapsync.ItemReplaced
		}
	}

	rev := s.put(mainID, subID, data)
	return mapsync.SubItemResult{
		MainID:   mainID,
		SubID:    subID,
		Revision: rev,
		UID:      s.items[mainID].uid,
		State:    state,
	}, nil
}

// findDuplicate looks for a sub-item holding exactly data. The lowest
// (mainID, subID) wins, so the result does not depend on map order.
func (s *Source) findDuplicate(data []byte) (string, string, bool) {
	var found []string
	for mainID, item := range s.items {
		for subID, d := range item.subs {
			if bytes.Equal(d, data) {
				found = append(found, mainID+"\x00"+subID)
			}
		}
	}
	if len(found) == 0 {
		return "", "", false
	}
	sort.Strings(found)
	mainID, subID, _ := strings.Cut(found[0], "\x00")
	return mainID, subID, true
}

func (s *Source) ReadSubItem(ctx context.Context, mainID, subID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpRead); err != nil {
		return nil, err
	}

	item, ok := s.items[mainID]
	if !ok {
		return nil, serr.New("no such item: " + mainID)
	}
	data, ok := item.subs[subID]
	if !ok {
		return nil, serr.New("no such sub-item: " + mainID + "/" + subID)
	}
	return append([]byte(nil), data...), nil
}

func (s *Source) RemoveSubItem(ctx context.Context, mainID, subID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpRemove); err != nil {
		return "", err
	}

	item, ok := s.items[mainID]
	if !ok {
		return "", serr.New("no such item: " + mainID)
	}
	if _, ok := item.subs[subID]; !ok {
		return "", serr.New("no such sub-item: " + mainID + "/" + subID)
	}
	return s.remove(mainID, subID), nil
}

func (s *Source) RemoveMergedItem(ctx context.Context, mainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpRemoveMerged); err != nil {
		return err
	}

	if _, ok := s.items[mainID]; !ok {
		logger.Debug("memsource: merged item already gone", "main_id", mainID)
		return nil
	}
	delete(s.items, mainID)
	s.bump()
	return nil
}

// SubDescription returns the first line of the sub-item's data.
func (s *Source) SubDescription(ctx context.Context, mainID, subID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDescription); err != nil {
		return "", err
	}

	item, ok := s.items[mainID]
	if !ok {
		return "", serr.New("no such item: " + mainID)
	}
	data, ok := item.subs[subID]
	if !ok {
		return "", serr.New("no such sub-item: " + mainID + "/" + subID)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
