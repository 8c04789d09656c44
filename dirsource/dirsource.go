// Package dirsource is a SubSyncSource over a directory tree:
//
//	<root>/<main>          plain item, SubID ""
//	<root>/<main>/@main    sub-item "" of a merged item
//	<root>/<main>/<sub>    sub-item <sub> of a merged item
//
// File names are escaped ids. Names starting with a dot are ignored, so ids
// starting with a dot cannot be stored. A plain item that receives a
// sub-item is converted into a directory.
//
// Revisions are content hashes: a main item's revision covers the names and
// contents of all its sub-items.
package dirsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"syncevo/luid"
	"syncevo/mapsync"
	"syncevo/revstore"
)

// mainFile holds sub-item "" inside a merged item's directory. '@' is
// escaped in file names, so no other id maps to it.
const mainFile = "@main"

// revisionLength is the number of hex digits kept of an item hash.
const revisionLength = 16

// Source stores items as files on a billy filesystem.
type Source struct {
	fs     billy.Filesystem
	esc    luid.Escaper
	parent mapsync.Parent
}

// New returns a Source rooted at the top of fs.
func New(fs billy.Filesystem) *Source {
	return &Source{
		fs:  fs,
		esc: luid.NewEscaper('%', "/\\:*?\"<>|@"),
	}
}

// SetParent implements mapsync.ParentAware.
func (s *Source) SetParent(p mapsync.Parent) {
	s.parent = p
}

func (s *Source) sourceName() string {
	if s.parent == nil {
		return ""
	}
	return s.parent.Name()
}

// ============================================================================
// Layout helpers
// ============================================================================

func (s *Source) fileName(id string) string {
	return s.esc.Escape(id)
}

func (s *Source) subFileName(subID string) string {
	if subID == "" {
		return mainFile
	}
	return s.fileName(subID)
}

func (s *Source) subID(name string) string {
	if name == mainFile {
		return ""
	}
	return s.esc.Unescape(name)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func validID(id string) error {
	if hidden(id) {
		return serr.New("ids starting with a dot cannot be stored: " + id)
	}
	return nil
}

// kind reports whether mainID exists as plain file or directory.
func (s *Source) kind(mainID string) (exists, isDir bool, err error) {
	info, err := s.fs.Stat(s.fileName(mainID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, false, nil
		}
		return false, false, serr.Wrap(err, "failed to stat item "+mainID)
	}
	return true, info.IsDir(), nil
}

// itemPath locates an existing sub-item.
func (s *Source) itemPath(mainID, subID string) (string, error) {
	exists, isDir, err := s.kind(mainID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", serr.New("no such item: " + mainID)
	}
	if !isDir {
		if subID != "" {
			return "", serr.New("plain item has no sub-item: " + mainID + "/" + subID)
		}
		return s.fileName(mainID), nil
	}
	p := path.Join(s.fileName(mainID), s.subFileName(subID))
	if _, err := s.fs.Stat(p); err != nil {
		return "", serr.New("no such sub-item: " + mainID + "/" + subID)
	}
	return p, nil
}

// ============================================================================
// Scanning
// ============================================================================

// subItem is one file of a main item.
type subItem struct {
	id   string
	data []byte
}

func revisionOf(subs []subItem) string {
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	h := sha256.New()
	for _, sub := range subs {
		h.Write([]byte(sub.id))
		h.Write([]byte{0})
		h.Write(sub.data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:revisionLength]
}

// readMain loads all sub-items of a main item. A directory without files
// yields no sub-items.
func (s *Source) readMain(mainID string, isDir bool) ([]subItem, error) {
	name := s.fileName(mainID)
	if !isDir {
		data, err := util.ReadFile(s.fs, name)
		if err != nil {
			return nil, serr.Wrap(err, "failed to read item "+mainID)
		}
		return []subItem{{id: "", data: data}}, nil
	}

	infos, err := s.fs.ReadDir(name)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list merged item "+mainID)
	}
	var subs []subItem
	for _, info := range infos {
		if info.IsDir() || hidden(info.Name()) {
			continue
		}
		data, err := util.ReadFile(s.fs, path.Join(name, info.Name()))
		if err != nil {
			return nil, serr.Wrap(err, "failed to read sub-item "+info.Name())
		}
		subs = append(subs, subItem{id: s.subID(info.Name()), data: data})
	}
	return subs, nil
}

func (s *Source) entryFor(mainID string, isDir bool) (revstore.RevisionEntry, bool, error) {
	subs, err := s.readMain(mainID, isDir)
	if err != nil {
		return revstore.RevisionEntry{}, false, err
	}
	if len(subs) == 0 {
		return revstore.RevisionEntry{}, false, nil
	}
	subIDs := revstore.NewSubIDSet()
	for _, sub := range subs {
		subIDs.Add(sub.id)
	}
	return revstore.RevisionEntry{
		Revision: revisionOf(subs),
		UID:      mainID,
		SubIDs:   subIDs,
	}, true, nil
}

// scan builds the complete current revision map.
func (s *Source) scan(ctx context.Context) (revstore.RevisionMap, error) {
	infos, err := s.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return revstore.RevisionMap{}, nil
		}
		return nil, serr.Wrap(err, "failed to list item directory")
	}

	revs := make(revstore.RevisionMap, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, serr.Wrap(err, "scan cancelled")
		}
		if hidden(info.Name()) {
			continue
		}
		mainID := s.esc.Unescape(info.Name())
		entry, ok, err := s.entryFor(mainID, info.IsDir())
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug("Skipping empty merged item", "source", s.sourceName(), "main_id", mainID)
			continue
		}
		revs[mainID] = entry
	}
	return revs, nil
}

// revisionOfMain returns the current revision of mainID, or "" when it no
// longer exists.
func (s *Source) revisionOfMain(mainID string) (string, error) {
	exists, isDir, err := s.kind(mainID)
	if err != nil || !exists {
		return "", err
	}
	entry, ok, err := s.entryFor(mainID, isDir)
	if err != nil || !ok {
		return "", err
	}
	return entry.Revision, nil
}

// ============================================================================
// mapsync.SubSyncSource
// ============================================================================

func (s *Source) BeginSubSync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return serr.Wrap(err, "cannot begin session")
	}
	logger.Debug("dirsource session started", "source", s.sourceName(), "root", s.fs.Root())
	return nil
}

func (s *Source) EndSubSync(ctx context.Context, success bool) error {
	logger.Debug("dirsource session ended", "source", s.sourceName(), "success", success)
	return nil
}

func (s *Source) ListAllSubItems(ctx context.Context) (revstore.RevisionMap, error) {
	return s.scan(ctx)
}

func (s *Source) UpdateAllSubItems(ctx context.Context, revs revstore.RevisionMap) error {
	current, err := s.scan(ctx)
	if err != nil {
		return err
	}
	for mainID := range revs {
		if _, ok := current[mainID]; !ok {
			delete(revs, mainID)
		}
	}
	for mainID, entry := range current {
		if old, ok := revs[mainID]; ok && old.Revision == entry.Revision {
			continue
		}
		revs[mainID] = entry
	}
	return nil
}

// SubDatabaseRevision hashes the revisions of all items.
func (s *Source) SubDatabaseRevision(ctx context.Context) (string, error) {
	revs, err := s.scan(ctx)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, mainID := range revs.MainIDs() {
		h.Write([]byte(mainID + ":" + revs[mainID].Revision + "\n"))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Source) InsertSubItem(ctx context.Context, mainID, subID string, data []byte) (mapsync.SubItemResult, error) {
	if err := ctx.Err(); err != nil {
		return mapsync.SubItemResult{}, serr.Wrap(err, "insert cancelled")
	}
	if mainID == "" {
		mainID = uuid.NewString()
	}
	if err := validID(mainID); err != nil {
		return mapsync.SubItemResult{}, err
	}
	if err := validID(subID); err != nil {
		return mapsync.SubItemResult{}, err
	}

	exists, isDir, err := s.kind(mainID)
	if err != nil {
		return mapsync.SubItemResult{}, err
	}

	state := mapsync.ItemOK
	name := s.fileName(mainID)
	var target string

	switch {
	case !exists && subID == "":
		target = name
	case !exists:
		target = path.Join(name, s.subFileName(subID))
	case !isDir && subID == "":
		target = name
		state = mapsync.ItemReplaced
	case !isDir:
		// Plain item gains a sub-item: move its data to @main first
		if err := s.convertToMerged(mainID); err != nil {
			return mapsync.SubItemResult{}, err
		}
		target = path.Join(name, s.subFileName(subID))
	default:
		target = path.Join(name, s.subFileName(subID))
		if _, err := s.fs.Stat(target); err == nil {
			state = mapsync.ItemReplaced
		}
	}

	if dir := path.Dir(target); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return mapsync.SubItemResult{}, serr.Wrap(err, "failed to create merged item "+mainID)
		}
	}
	if err := util.WriteFile(s.fs, target, data, 0o644); err != nil {
		return mapsync.SubItemResult{}, serr.Wrap(err, "failed to write item "+target)
	}

	rev, err := s.revisionOfMain(mainID)
	if err != nil {
		return mapsync.SubItemResult{}, err
	}

	logger.Debug("dirsource stored item",
		"source", s.sourceName(),
		"main_id", mainID,
		"sub_id", subID,
		"state", state.String(),
	)
	return mapsync.SubItemResult{
		MainID:   mainID,
		SubID:    subID,
		Revision: rev,
		UID:      mainID,
		State:    state,
	}, nil
}

func (s *Source) convertToMerged(mainID string) error {
	name := s.fileName(mainID)
	data, err := util.ReadFile(s.fs, name)
	if err != nil {
		return serr.Wrap(err, "failed to read plain item "+mainID)
	}
	if err := s.fs.Remove(name); err != nil {
		return serr.Wrap(err, "failed to remove plain item "+mainID)
	}
	if err := s.fs.MkdirAll(name, 0o755); err != nil {
		return serr.Wrap(err, "failed to create merged item "+mainID)
	}
	if err := util.WriteFile(s.fs, path.Join(name, mainFile), data, 0o644); err != nil {
		return serr.Wrap(err, "failed to convert plain item "+mainID)
	}
	return nil
}

func (s *Source) ReadSubItem(ctx context.Context, mainID, subID string) ([]byte, error) {
	p, err := s.itemPath(mainID, subID)
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, p)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read item "+p)
	}
	return data, nil
}

func (s *Source) RemoveSubItem(ctx context.Context, mainID, subID string) (string, error) {
	p, err := s.itemPath(mainID, subID)
	if err != nil {
		return "", err
	}
	if err := s.fs.Remove(p); err != nil {
		return "", serr.Wrap(err, "failed to remove item "+p)
	}

	rev, err := s.revisionOfMain(mainID)
	if err != nil {
		return "", err
	}
	if rev == "" {
		s.removeEmptyDir(mainID)
	}
	return rev, nil
}

// removeEmptyDir drops the directory of a merged item whose last sub-item
// is gone. Hidden files and subdirectories are never tracked, so a directory
// still holding them is kept.
func (s *Source) removeEmptyDir(mainID string) {
	exists, isDir, err := s.kind(mainID)
	if err != nil || !exists || !isDir {
		return
	}
	dir := s.fileName(mainID)
	if err := s.fs.Remove(dir); err != nil {
		logger.LogErr(err, "keeping directory of removed merged item", "main_id", mainID, "dir", dir)
	}
}

func (s *Source) RemoveMergedItem(ctx context.Context, mainID string) error {
	if err := util.RemoveAll(s.fs, s.fileName(mainID)); err != nil {
		return serr.Wrap(err, "failed to remove merged item "+mainID)
	}
	return nil
}

func (s *Source) SubDescription(ctx context.Context, mainID, subID string) (string, error) {
	data, err := s.ReadSubItem(ctx, mainID, subID)
	if err != nil {
		return "", err
	}
	return Describe(data), nil
}

// Describe returns the FN (vCard) or SUMMARY (iCalendar) value of data,
// or its first non-empty line when neither is present.
func Describe(data []byte) string {
	var first string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		upper := strings.ToUpper(line)
		for _, prop := range []string{"FN", "SUMMARY"} {
			if strings.HasPrefix(upper, prop+":") || strings.HasPrefix(upper, prop+";") {
				if _, value, ok := strings.Cut(line, ":"); ok {
					return strings.TrimSpace(value)
				}
			}
		}
		if first == "" && strings.TrimSpace(line) != "" {
			first = strings.TrimSpace(line)
		}
	}
	return first
}
