package mapsync

import (
	"context"
	"fmt"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"syncevo/luid"
	"syncevo/revstore"
)

// ============================================================================
// Change Detector
//
// Mode selection, in order:
//   1. a non-empty resume token replaces the last token
//   2. empty token -> SLOW: list everything, all items NEW, no DELETED
//   3. backend database revision == persisted one -> NONE: reuse the old map
//   4. otherwise -> FULL: the backend refreshes a copy of the old map which
//      is then diffed against the original
//
// The old map is never modified; every mode returns an independent copy.
// ============================================================================

// Detection is the outcome of one change detection run.
type Detection struct {
	Mode      Mode
	Revisions revstore.RevisionMap
	Changes   Changes
}

// Detector computes detections against one backend.
type Detector struct {
	backend SubSyncSource
	codec   luid.Codec
}

// NewDetector returns a Detector that builds LUIDs with codec.
func NewDetector(backend SubSyncSource, codec luid.Codec) Detector {
	return Detector{backend: backend, codec: codec}
}

// SelectMode picks the detection mode. dbRevision is the whole-database
// revision persisted by the last successful session.
func (d Detector) SelectMode(ctx context.Context, dbRevision, lastToken, resumeToken string) (Mode, error) {
	token := lastToken
	if resumeToken != "" {
		token = resumeToken
	}
	if token == "" {
		return ModeSlow, nil
	}

	current, err := d.backend.SubDatabaseRevision(ctx)
	if err != nil {
		return 0, serr.Wrap(err, "failed to get database revision")
	}
	// An empty revision means the backend cannot tell; it never matches
	if current != "" && current == dbRevision {
		return ModeNone, nil
	}

	logger.Debug("Database revision changed",
		"persisted", dbRevision,
		"current", current,
	)
	return ModeFull, nil
}

// Detect selects the mode and runs it.
func (d Detector) Detect(ctx context.Context, oldMap revstore.RevisionMap,
	dbRevision, lastToken, resumeToken string) (Detection, error) {

	mode, err := d.SelectMode(ctx, dbRevision, lastToken, resumeToken)
	if err != nil {
		return Detection{}, err
	}
	return d.Run(ctx, mode, oldMap)
}

// Run performs detection in the given mode. An unknown mode is a
// programming error and panics.
func (d Detector) Run(ctx context.Context, mode Mode, oldMap revstore.RevisionMap) (Detection, error) {
	det := Detection{Mode: mode, Changes: Changes{}}

	switch mode {
	case ModeSlow:
		revs, err := d.backend.ListAllSubItems(ctx)
		if err != nil {
			return Detection{}, serr.Wrap(err, "failed to list all sub-items")
		}
		if revs == nil {
			revs = revstore.RevisionMap{}
		}
		for mainID, entry := range revs {
			for subID := range entry.SubIDs {
				det.Changes[d.codec.Encode(mainID, subID)] = ChangeNew
			}
		}
		det.Revisions = revs

	case ModeNone:
		det.Revisions = oldMap.Clone()

	case ModeFull:
		revs := oldMap.Clone()
		if err := d.backend.UpdateAllSubItems(ctx, revs); err != nil {
			return Detection{}, serr.Wrap(err, "failed to update sub-items")
		}
		det.Changes = Diff(d.codec, oldMap, revs)
		det.Revisions = revs

	default:
		panic(fmt.Sprintf("mapsync: unknown change detection mode %d", int(mode)))
	}

	return det, nil
}

// Diff compares two revision maps.
//
// A main item present on one side only yields DELETED or NEW for each of
// its sub-items. A main item on both sides with differing revisions yields
// DELETED, NEW or UPDATED per sub-item. A main item with the same revision
// on both sides yields nothing, even if its sub-items differ: the revision
// is trusted to change whenever a sub-item does.
func Diff(codec luid.Codec, oldMap, newMap revstore.RevisionMap) Changes {
	changes := Changes{}

	for mainID, oldEntry := range oldMap {
		newEntry, ok := newMap[mainID]
		if !ok {
			for subID := range oldEntry.SubIDs {
				changes[codec.Encode(mainID, subID)] = ChangeDeleted
			}
			continue
		}
		if oldEntry.Revision == newEntry.Revision {
			continue
		}
		for subID := range oldEntry.SubIDs {
			if newEntry.SubIDs.Has(subID) {
				changes[codec.Encode(mainID, subID)] = ChangeUpdated
			} else {
				changes[codec.Encode(mainID, subID)] = ChangeDeleted
			}
		}
		for subID := range newEntry.SubIDs {
			if !oldEntry.SubIDs.Has(subID) {
				changes[codec.Encode(mainID, subID)] = ChangeNew
			}
		}
	}

	for mainID, newEntry := range newMap {
		if _, ok := oldMap[mainID]; ok {
			continue
		}
		for subID := range newEntry.SubIDs {
			changes[codec.Encode(mainID, subID)] = ChangeNew
		}
	}

	return changes
}
